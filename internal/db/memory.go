package db

import (
	"context"
	"fmt"
	"sync"

	"failure-backfill/internal/models"
)

// MemoryStore is an in-process dataset used for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]map[string]any
	order []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

// Insert adds or replaces a document.
func (s *MemoryStore) Insert(id string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		s.order = append(s.order, id)
	}
	s.docs[id] = copyDoc(doc)
}

// Get returns a copy of a document.
func (s *MemoryStore) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// Count returns the number of documents.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

// FindFrom returns copies of every document at or after the cutoff, in insertion order.
func (s *MemoryStore) FindFrom(ctx context.Context, cutoff models.Cutoff) ([]models.DatasetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []models.DatasetRecord
	for _, id := range s.order {
		doc := s.docs[id]
		ts, ok := doc["timestamp"].(string)
		if !ok || !cutoff.Includes(ts) {
			continue
		}
		list = append(list, models.DatasetRecord{ID: id, Timestamp: ts, Fields: copyDoc(doc)})
	}
	return list, nil
}

// SetFlag sets one field to true on one document.
func (s *MemoryStore) SetFlag(ctx context.Context, rec models.DatasetRecord, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[rec.ID]
	if !ok {
		return fmt.Errorf("set %s on record %s: %w", field, rec.ID, ErrRecordNotFound)
	}
	doc[field] = true
	return nil
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
