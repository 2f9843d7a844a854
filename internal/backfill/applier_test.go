package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"failure-backfill/internal/db"
	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

func selectAll(t *testing.T, s Reader, from string) []models.DatasetRecord {
	t.Helper()
	recs, err := NewSelector(s, models.CompareNumeric).Select(context.Background(), models.FailureEvent{Timestamp: from, DeviceName: "x"})
	require.NoError(t, err)
	return recs
}

func TestApply_ReportsFailuresWithoutAbortingSiblings(t *testing.T) {
	store := &flakyStore{MemoryStore: chillerDataset(), failures: map[string]int{"r2": 5, "r4": 5}}
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 2, RetryDelay: time.Millisecond})
	ev := models.FailureEvent{Timestamp: "100", DeviceName: "Chiller1"}

	res, err := a.Apply(context.Background(), ev, selectAll(t, store, "100"))
	require.Error(t, err)

	var uerr *UpdateError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 3, uerr.Succeeded)
	assert.Len(t, uerr.Records, 2)
	assert.Contains(t, uerr.Records, "r2")
	assert.Contains(t, uerr.Records, "r4")
	assert.Len(t, uerr.Unwrap(), 2)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 2, res.Failed)

	for _, id := range []string{"r1", "r3", "r5"} {
		assert.True(t, flagged(t, store.MemoryStore, id, "Chiller1AboutToFail"), id)
	}
}

func TestApply_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: chillerDataset(), failures: map[string]int{"r5": 2}}
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 3, RetryDelay: time.Millisecond})
	ev := models.FailureEvent{Timestamp: "500", DeviceName: "Chiller1"}

	res, err := a.Apply(context.Background(), ev, selectAll(t, store, "500"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.True(t, flagged(t, store.MemoryStore, "r5", "Chiller1AboutToFail"))
}

func TestApply_MissingRecordIsNotAFailure(t *testing.T) {
	store := db.NewMemoryStore()
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 3})
	ev := models.FailureEvent{Timestamp: "1", DeviceName: "Pump"}

	res, err := a.Apply(context.Background(), ev, []models.DatasetRecord{{ID: "gone", Timestamp: "2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 0, res.Updated)
}

func TestApply_SkipsAlreadyFlagged(t *testing.T) {
	store := &flakyStore{MemoryStore: db.NewMemoryStore(), failures: map[string]int{"r1": 100}}
	store.Insert("r1", map[string]any{"timestamp": "5", "PumpAboutToFail": true})
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 1})
	ev := models.FailureEvent{Timestamp: "1", DeviceName: "Pump"}

	res, err := a.Apply(context.Background(), ev, selectAll(t, store, "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.Updated)
}

func TestApply_RateLimited(t *testing.T) {
	store := chillerDataset()
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RateLimit: 1000, RetryAttempts: 1, SampleSize: 10})
	ev := models.FailureEvent{Timestamp: "100", DeviceName: "Chiller1"}

	res, err := a.Apply(context.Background(), ev, selectAll(t, store, "100"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Updated)
	assert.Len(t, res.Samples, 5)
	assert.Empty(t, res.Samples[0].FeatureField)
}

func TestApply_CancelledLeavesRestUnwritten(t *testing.T) {
	store := chillerDataset()
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 1})
	ev := models.FailureEvent{Timestamp: "100", DeviceName: "Chiller1"}
	recs := selectAll(t, store, "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Apply(ctx, ev, recs)

	var uerr *UpdateError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 5, res.Failed)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, flagged(t, store, "r1", "Chiller1AboutToFail"))
}

// keyStore records the records it was asked to patch.
type keyStore struct {
	got []models.DatasetRecord
}

func (k *keyStore) SetFlag(_ context.Context, rec models.DatasetRecord, _ string) error {
	k.got = append(k.got, rec)
	return nil
}

func TestApply_PassesStoreKeyThrough(t *testing.T) {
	store := &keyStore{}
	a := NewApplier(store, logging.NewNop(), ApplierOptions{RetryAttempts: 1})
	key := map[string]any{"dev": "c1", "seq": 3}

	_, err := a.Apply(context.Background(), models.FailureEvent{Timestamp: "1", DeviceName: "Pump"},
		[]models.DatasetRecord{{ID: `{"dev": "c1", "seq": 3}`, Timestamp: "2", Key: key}})
	require.NoError(t, err)

	require.Len(t, store.got, 1)
	assert.Equal(t, key, store.got[0].Key)
}
