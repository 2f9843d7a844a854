package backfill

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"failure-backfill/internal/models"
)

func TestSelector_Cutoff(t *testing.T) {
	numeric := NewSelector(nil, models.CompareNumeric)

	c, err := numeric.Cutoff(models.FailureEvent{Timestamp: " 300 ", DeviceName: "a"})
	require.NoError(t, err)
	assert.Equal(t, "300", c.Raw)
	assert.Equal(t, models.CompareNumeric, c.Mode)
	assert.Zero(t, c.Value.Cmp(big.NewRat(300, 1)))

	_, err = numeric.Cutoff(models.FailureEvent{Timestamp: "  ", DeviceName: "a"})
	assert.True(t, errors.Is(err, ErrInvalidPredicate))

	_, err = numeric.Cutoff(models.FailureEvent{Timestamp: "1e9", DeviceName: "a"})
	assert.True(t, errors.Is(err, ErrInvalidPredicate))

	lexical := NewSelector(nil, models.CompareLexical)
	c, err = lexical.Cutoff(models.FailureEvent{Timestamp: "2024-01-01T00:00:00Z", DeviceName: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.CompareLexical, c.Mode)
	assert.Equal(t, "2024-01-01T00:00:00Z", c.Raw)
}

func TestSelector_DefaultsToNumeric(t *testing.T) {
	s := NewSelector(nil, "")
	c, err := s.Cutoff(models.FailureEvent{Timestamp: "42", DeviceName: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.CompareNumeric, c.Mode)
}

func TestSelector_SelectWrapsErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: chillerDataset(), findErr: errors.New("store unreachable")}
	s := NewSelector(store, models.CompareNumeric)
	ev := models.FailureEvent{Timestamp: "300", DeviceName: "Chiller1"}

	_, err := s.Select(context.Background(), ev)
	var rerr *RetrievalError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ev, rerr.Event)
	assert.Contains(t, err.Error(), "store unreachable")

	_, err = s.Select(context.Background(), models.FailureEvent{DeviceName: "Chiller1"})
	require.True(t, errors.As(err, &rerr))
	assert.True(t, errors.Is(err, ErrInvalidPredicate))
}

func TestSelector_Select(t *testing.T) {
	s := NewSelector(chillerDataset(), models.CompareNumeric)

	recs, err := s.Select(context.Background(), models.FailureEvent{Timestamp: "300", DeviceName: "Chiller1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "300", recs[0].Timestamp)

	total, err := s.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}
