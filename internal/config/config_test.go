package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("KAFKA_TOPICS", "device-failures")
	t.Setenv("DATASET_COLLECTION", "sensor_data")
	t.Setenv("DATASET_DSN", "postgres://localhost/plant")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"device-failures"}, cfg.Kafka.Topics)
	assert.Equal(t, "failure-backfill", cfg.Kafka.GroupID)
	assert.Equal(t, "latest", cfg.Kafka.OffsetReset)
	assert.Equal(t, 5*time.Second, cfg.Batch.Interval)
	assert.Equal(t, 500, cfg.Batch.MaxMessages)
	assert.Equal(t, "postgres", cfg.Dataset.Backend)
	assert.Equal(t, "numeric", cfg.Dataset.CompareMode)
	assert.Equal(t, 4, cfg.Backfill.Workers)
	assert.Equal(t, 3, cfg.Backfill.RetryAttempts)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.LedgerTTL)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, ":9191", cfg.API.Port)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPICS", "a,b")
	t.Setenv("KAFKA_OFFSET_RESET", "EARLIEST")
	t.Setenv("BATCH_INTERVAL", "250ms")
	t.Setenv("DATASET_BACKEND", "mongo")
	t.Setenv("DATASET_DATABASE", "plant")
	t.Setenv("TIMESTAMP_COMPARE", "lexical")
	t.Setenv("UPDATE_RATE_LIMIT", "50.5")
	t.Setenv("API_ENABLED", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"a", "b"}, cfg.Kafka.Topics)
	assert.Equal(t, "earliest", cfg.Kafka.OffsetReset)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Interval)
	assert.Equal(t, "mongo", cfg.Dataset.Backend)
	assert.Equal(t, "lexical", cfg.Dataset.CompareMode)
	assert.Equal(t, 50.5, cfg.Backfill.RateLimit)
	assert.False(t, cfg.API.Enabled)
}

func TestFromEnv_MissingRequired(t *testing.T) {
	t.Setenv("KAFKA_TOPICS", "")
	t.Setenv("DATASET_COLLECTION", "")
	t.Setenv("DATASET_BACKEND", "memory")

	_, err := FromEnv()
	var fatal *FatalConfigError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, []string{"KAFKA_TOPICS", "DATASET_COLLECTION"}, fatal.Missing)
	assert.Contains(t, err.Error(), "missing required configurations")
}

func TestFromEnv_Invalid(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_OFFSET_RESET", "middle")
	t.Setenv("BATCH_INTERVAL", "soon")
	t.Setenv("BACKFILL_WORKERS", "-2")

	_, err := FromEnv()
	var fatal *FatalConfigError
	require.True(t, errors.As(err, &fatal))
	assert.ElementsMatch(t, []string{"KAFKA_OFFSET_RESET", "BATCH_INTERVAL", "BACKFILL_WORKERS"}, fatal.Invalid)
}

func TestFromEnv_MongoNeedsDatabase(t *testing.T) {
	setRequired(t)
	t.Setenv("DATASET_BACKEND", "mongo")
	t.Setenv("DATASET_DATABASE", "")

	_, err := FromEnv()
	var fatal *FatalConfigError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, []string{"DATASET_DATABASE"}, fatal.Missing)
}
