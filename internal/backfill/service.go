package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"failure-backfill/internal/decoder"
	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

// Dataset is the store the backfill reads from and patches.
type Dataset interface {
	Reader
	Writer
}

// HandledLedger remembers failure events whose backfill completed.
type HandledLedger interface {
	IsHandled(ctx context.Context, ev models.FailureEvent) (bool, error)
	MarkHandled(ctx context.Context, ev models.FailureEvent, matched, updated int) error
}

// Options configures a Service.
type Options struct {
	CompareMode models.CompareMode
	Workers     int
	Applier     ApplierOptions
}

// Service turns batches of failure notifications into lag-flag updates.
type Service struct {
	mu        sync.Mutex
	decoder   *decoder.Decoder
	selector  *Selector
	applier   *Applier
	ledger    HandledLedger
	workers   int
	logger    *logging.Logger
	observers []func(models.BatchSummary)
}

// New builds a Service. ledger may be nil to disable the handled-event check.
func New(store Dataset, ledger HandledLedger, logger *logging.Logger, opts Options) (*Service, error) {
	dec, err := decoder.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Service{
		decoder:  dec,
		selector: NewSelector(store, opts.CompareMode),
		applier:  NewApplier(store, logger, opts.Applier),
		ledger:   ledger,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Observe registers fn to receive every batch summary. Not safe to call while
// batches are running.
func (s *Service) Observe(fn func(models.BatchSummary)) {
	s.observers = append(s.observers, fn)
}

// ProcessBatch decodes msgs and backfills every failure event they carry. Only one
// batch runs at a time. Events within the batch run concurrently; once ctx is done
// no further events are started and those are reported as failed.
func (s *Service) ProcessBatch(ctx context.Context, msgs []models.RawMessage) models.BatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := models.BatchSummary{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now(),
		Messages:  len(msgs),
	}
	blog := s.logger.WithField("batch_id", summary.BatchID)

	events, failures := s.decoder.DecodeBatch(msgs)
	summary.DecodeFailures = len(failures)
	for _, f := range failures {
		blog.WithFields(logrus.Fields{
			"topic":     f.Source.Topic,
			"partition": f.Source.Partition,
			"offset":    f.Source.Offset,
		}).WithError(f.Err).Warn("Dropping malformed failure event")
	}

	total, err := s.selector.Total(ctx)
	if err != nil {
		blog.WithError(err).Error("Failed to count dataset records")
		total = -1
	}
	summary.TotalRecords = total

	summary.Events = make([]models.EventOutcome, len(events))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, d := range events {
		if err := ctx.Err(); err != nil {
			summary.Events[i] = failedOutcome(d, err)
			continue
		}
		i, d := i, d
		g.Go(func() error {
			summary.Events[i] = s.processEvent(ctx, blog, d)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range summary.Events {
		summary.Matched += out.Matched
		summary.Updated += out.Updated
		summary.Unchanged += out.Unchanged
		summary.Missing += out.Missing
		summary.Failed += out.Failed
	}
	summary.Duration = time.Since(summary.StartedAt)

	s.report(blog, summary)
	return summary
}

func (s *Service) processEvent(ctx context.Context, blog *logrus.Entry, d decoder.Decoded) models.EventOutcome {
	ev := d.Event
	elog := blog.WithFields(logrus.Fields{"device": ev.DeviceName, "timestamp": ev.Timestamp})
	if err := ctx.Err(); err != nil {
		return failedOutcome(d, err)
	}
	out := models.EventOutcome{Event: ev, Source: d.Source, State: models.StateDecoded}

	if s.ledger != nil {
		handled, err := s.ledger.IsHandled(ctx, ev)
		if err != nil {
			elog.WithError(err).Warn("Ledger check failed, processing event anyway")
		} else if handled {
			elog.Info("Failure event already handled, skipping")
			out.State = models.StateSkipped
			return out
		}
	}

	records, err := s.selector.Select(ctx, ev)
	if err != nil {
		elog.WithError(err).Error("Range selection failed")
		out.State = models.StateFailed
		out.Error = err.Error()
		return out
	}
	out.State = models.StateSelected
	out.Matched = len(records)

	res, err := s.applier.Apply(ctx, ev, records)
	out.Updated = res.Updated
	out.Unchanged = res.Unchanged
	out.Missing = res.Missing
	out.Failed = res.Failed
	out.Samples = res.Samples
	if err != nil {
		elog.WithError(err).WithFields(logrus.Fields{
			"updated": res.Updated,
			"failed":  res.Failed,
		}).Error("Backfill incomplete, event left for redelivery")
		out.State = models.StateFailed
		out.Error = err.Error()
		return out
	}
	out.State = models.StateUpdated

	if s.ledger != nil {
		if err := s.ledger.MarkHandled(ctx, ev, out.Matched, out.Updated); err != nil {
			elog.WithError(err).Warn("Failed to record handled event")
		}
	}
	out.State = models.StateDone
	elog.WithFields(logrus.Fields{
		"matched":   out.Matched,
		"updated":   out.Updated,
		"unchanged": out.Unchanged,
		"missing":   out.Missing,
	}).Info("Backfill complete")
	return out
}

func failedOutcome(d decoder.Decoded, err error) models.EventOutcome {
	return models.EventOutcome{
		Event:  d.Event,
		Source: d.Source,
		State:  models.StateFailed,
		Error:  err.Error(),
	}
}

func (s *Service) report(blog *logrus.Entry, summary models.BatchSummary) {
	blog.WithFields(logrus.Fields{
		"messages":        summary.Messages,
		"decode_failures": summary.DecodeFailures,
		"events":          len(summary.Events),
		"total_records":   summary.TotalRecords,
		"matched":         summary.Matched,
		"updated":         summary.Updated,
		"unchanged":       summary.Unchanged,
		"missing":         summary.Missing,
		"failed":          summary.Failed,
		"duration":        summary.Duration.String(),
	}).Info("Batch processed")

	for _, out := range summary.Events {
		for _, smp := range out.Samples {
			blog.WithFields(logrus.Fields{
				"record_id":     smp.ID,
				"timestamp":     smp.Timestamp,
				smp.FlagField:   smp.FlagValue,
				"feature":       smp.FeatureField,
				"feature_value": smp.FeatureValue,
			}).Info("Updated record")
		}
	}

	for _, fn := range s.observers {
		fn(summary)
	}
}
