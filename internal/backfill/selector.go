package backfill

import (
	"context"
	"fmt"
	"strings"

	"failure-backfill/internal/models"
)

// Reader is the read side of the dataset store.
type Reader interface {
	Count(ctx context.Context) (int64, error)
	FindFrom(ctx context.Context, cutoff models.Cutoff) ([]models.DatasetRecord, error)
}

// Selector finds the records a failure event applies to.
type Selector struct {
	store Reader
	mode  models.CompareMode
}

// NewSelector returns a selector comparing timestamps in the given mode.
func NewSelector(store Reader, mode models.CompareMode) *Selector {
	if mode == "" {
		mode = models.CompareNumeric
	}
	return &Selector{store: store, mode: mode}
}

// Cutoff builds the lower bound for ev.
func (s *Selector) Cutoff(ev models.FailureEvent) (models.Cutoff, error) {
	raw := ev.Timestamp
	if strings.TrimSpace(raw) == "" {
		return models.Cutoff{}, fmt.Errorf("%w: empty timestamp", ErrInvalidPredicate)
	}
	if s.mode == models.CompareLexical {
		return models.Cutoff{Raw: raw, Mode: models.CompareLexical}, nil
	}
	v, ok := models.ParseDecimal(raw)
	if !ok {
		return models.Cutoff{}, fmt.Errorf("%w: timestamp %q is not numeric", ErrInvalidPredicate, raw)
	}
	return models.Cutoff{Raw: strings.TrimSpace(raw), Value: v, Mode: models.CompareNumeric}, nil
}

// Select reads every record with timestamp >= ev.Timestamp. Errors are *RetrievalError.
func (s *Selector) Select(ctx context.Context, ev models.FailureEvent) ([]models.DatasetRecord, error) {
	cutoff, err := s.Cutoff(ev)
	if err != nil {
		return nil, &RetrievalError{Event: ev, Err: err}
	}
	records, err := s.store.FindFrom(ctx, cutoff)
	if err != nil {
		return nil, &RetrievalError{Event: ev, Err: err}
	}
	return records, nil
}

// Total counts the records in the target collection.
func (s *Selector) Total(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}
