package api

import (
	"sync"

	"failure-backfill/internal/models"
)

// Stats are running totals since process start.
type Stats struct {
	Batches        int `json:"batches"`
	Events         int `json:"events"`
	DecodeFailures int `json:"decode_failures"`
	Updated        int `json:"updated"`
	Missing        int `json:"missing"`
	Failed         int `json:"failed"`
	Incomplete     int `json:"incomplete_batches"`
}

// Status keeps the latest batch summary and running totals.
type Status struct {
	mu     sync.RWMutex
	latest *models.BatchSummary
	stats  Stats
}

func NewStatus() *Status {
	return &Status{}
}

// Record is registered as a batch observer.
func (s *Status) Record(summary models.BatchSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &summary
	s.stats.Batches++
	s.stats.Events += len(summary.Events)
	s.stats.DecodeFailures += summary.DecodeFailures
	s.stats.Updated += summary.Updated
	s.stats.Missing += summary.Missing
	s.stats.Failed += summary.Failed
	if !summary.Complete() {
		s.stats.Incomplete++
	}
}

// Latest returns the most recent summary, if any.
func (s *Status) Latest() (models.BatchSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return models.BatchSummary{}, false
	}
	return *s.latest, true
}

func (s *Status) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
