package backfill

import (
	"errors"
	"fmt"
	"sort"

	"failure-backfill/internal/models"
)

// ErrInvalidPredicate is wrapped when an event's cutoff cannot form a range predicate.
var ErrInvalidPredicate = errors.New("invalid range predicate")

// RetrievalError reports a failed range read. The event can be retried from scratch.
type RetrievalError struct {
	Event models.FailureEvent
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve records for %s from %q: %v", e.Event.DeviceName, e.Event.Timestamp, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// UpdateError reports record updates that did not go through. Sibling records were
// still attempted; Succeeded counts the ones that were written.
type UpdateError struct {
	Event     models.FailureEvent
	Succeeded int
	Records   map[string]error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update %s for %s: %d succeeded, %d failed",
		e.Event.FlagField(), e.Event.Timestamp, e.Succeeded, len(e.Records))
}

// Unwrap exposes the per-record causes, ordered by record id.
func (e *UpdateError) Unwrap() []error {
	ids := make([]string, 0, len(e.Records))
	for id := range e.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, e.Records[id])
	}
	return errs
}
