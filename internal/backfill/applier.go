package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"failure-backfill/internal/db"
	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
	"failure-backfill/internal/utils"
)

// Writer is the write side of the dataset store: a targeted single-field patch
// of a record returned by the Reader.
type Writer interface {
	SetFlag(ctx context.Context, rec models.DatasetRecord, field string) error
}

// ApplierOptions tunes how record updates are written.
type ApplierOptions struct {
	RateLimit     float64 // records per second, 0 means unlimited
	RetryAttempts int
	RetryDelay    time.Duration
	FeatureField  string
	SampleSize    int
}

// UpdateResult counts what happened to the selected records of one event.
type UpdateResult struct {
	Updated   int
	Unchanged int
	Missing   int
	Failed    int
	Samples   []models.RecordSample
}

// Applier sets a device's lag flag on selected records.
type Applier struct {
	store   Writer
	limiter *rate.Limiter
	opts    ApplierOptions
	logger  *logging.Logger
}

// NewApplier returns an applier writing through store.
func NewApplier(store Writer, logger *logging.Logger, opts ApplierOptions) *Applier {
	a := &Applier{store: store, opts: opts, logger: logger}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return a
}

// Apply patches every record with ev's flag set to true. A failed record does not
// stop the others; when any fail the returned error is an *UpdateError and the
// result still carries the counts. Records already carrying the flag are not
// written again.
func (a *Applier) Apply(ctx context.Context, ev models.FailureEvent, records []models.DatasetRecord) (UpdateResult, error) {
	field := ev.FlagField()
	var res UpdateResult
	failed := map[string]error{}

	for i, rec := range records {
		rlog := a.logger.WithFields(logrus.Fields{
			"device":    ev.DeviceName,
			"timestamp": rec.Timestamp,
			"record_id": rec.ID,
		})

		if err := ctx.Err(); err != nil {
			// the rest are left for redelivery
			for _, rest := range records[i:] {
				failed[rest.ID] = err
			}
			rlog.WithError(err).Warnf("Update cancelled with %d records left", len(records)-i)
			break
		}

		if flagged, _ := rec.Fields[field].(bool); flagged {
			res.Unchanged++
			continue
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				failed[rec.ID] = err
				rlog.WithError(err).Error("Update throttling interrupted")
				continue
			}
		}

		missing := false
		err := utils.Retry(ctx, rlog, a.opts.RetryAttempts, a.opts.RetryDelay, func() error {
			err := a.store.SetFlag(ctx, rec, field)
			if errors.Is(err, db.ErrRecordNotFound) {
				missing = true
				return nil
			}
			return err
		})
		switch {
		case err != nil:
			failed[rec.ID] = err
			rlog.WithError(err).Error("Record update failed")
		case missing:
			res.Missing++
			rlog.Warn("Record disappeared before update")
		default:
			res.Updated++
			if len(res.Samples) < a.opts.SampleSize {
				res.Samples = append(res.Samples, a.sample(rec, field))
			}
		}
	}

	res.Failed = len(failed)
	if res.Failed > 0 {
		return res, &UpdateError{Event: ev, Succeeded: res.Updated, Records: failed}
	}
	return res, nil
}

func (a *Applier) sample(rec models.DatasetRecord, field string) models.RecordSample {
	s := models.RecordSample{
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
		FlagField: field,
		FlagValue: true,
	}
	if a.opts.FeatureField != "" {
		s.FeatureField = a.opts.FeatureField
		s.FeatureValue = rec.Fields[a.opts.FeatureField]
	}
	return s
}
