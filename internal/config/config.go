package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Brokers     []string
		Topics      []string
		GroupID     string
		OffsetReset string
	}
	Batch struct {
		Interval    time.Duration
		MaxMessages int
	}
	Dataset struct {
		Backend      string
		DSN          string
		Database     string
		Collection   string
		CompareMode  string
		FeatureField string
		SampleSize   int
	}
	Backfill struct {
		Workers       int
		RateLimit     float64
		RetryAttempts int
		RetryDelay    time.Duration
	}
	Redis struct {
		Addr      string
		LedgerTTL time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
	API struct {
		Enabled bool
		Port    string
	}
}

// FatalConfigError reports configuration the process cannot start without.
type FatalConfigError struct {
	Missing []string
	Invalid []string
}

func (e *FatalConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required configurations: %v", e.Missing))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid configurations: %v", e.Invalid))
	}
	return strings.Join(parts, "; ")
}

// Load reads .env (if present) and the environment, validates, and applies defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	fatal := &FatalConfigError{}

	// Kafka settings
	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topics = splitList(os.Getenv("KAFKA_TOPICS"))
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")
	cfg.Kafka.OffsetReset = strings.ToLower(os.Getenv("KAFKA_OFFSET_RESET"))

	// Batch loop
	cfg.Batch.Interval = parseDuration(fatal, "BATCH_INTERVAL")
	cfg.Batch.MaxMessages = parseInt(fatal, "BATCH_MAX_MESSAGES")

	// Dataset store
	cfg.Dataset.Backend = strings.ToLower(os.Getenv("DATASET_BACKEND"))
	cfg.Dataset.DSN = os.Getenv("DATASET_DSN")
	cfg.Dataset.Database = os.Getenv("DATASET_DATABASE")
	cfg.Dataset.Collection = os.Getenv("DATASET_COLLECTION")
	cfg.Dataset.CompareMode = strings.ToLower(os.Getenv("TIMESTAMP_COMPARE"))
	cfg.Dataset.FeatureField = os.Getenv("FEATURE_FIELD")
	cfg.Dataset.SampleSize = parseInt(fatal, "SAMPLE_SIZE")

	// Backfill workers
	cfg.Backfill.Workers = parseInt(fatal, "BACKFILL_WORKERS")
	if v := os.Getenv("UPDATE_RATE_LIMIT"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			fatal.Invalid = append(fatal.Invalid, "UPDATE_RATE_LIMIT")
		}
		cfg.Backfill.RateLimit = r
	}
	cfg.Backfill.RetryAttempts = parseInt(fatal, "UPDATE_RETRY_ATTEMPTS")
	cfg.Backfill.RetryDelay = parseDuration(fatal, "UPDATE_RETRY_DELAY")

	// Redis ledger
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.LedgerTTL = parseDuration(fatal, "LEDGER_TTL")

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// API settings
	cfg.API.Enabled = os.Getenv("API_ENABLED") != "false"
	cfg.API.Port = os.Getenv("API_PORT")

	// Validate required settings
	if len(cfg.Kafka.Topics) == 0 {
		fatal.Missing = append(fatal.Missing, "KAFKA_TOPICS")
	}
	if cfg.Dataset.Collection == "" {
		fatal.Missing = append(fatal.Missing, "DATASET_COLLECTION")
	}

	// Apply defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "failure-backfill"
	}
	if cfg.Kafka.OffsetReset == "" {
		cfg.Kafka.OffsetReset = "latest"
	}
	if cfg.Batch.Interval == 0 {
		cfg.Batch.Interval = 5 * time.Second
	}
	if cfg.Batch.MaxMessages == 0 {
		cfg.Batch.MaxMessages = 500
	}
	if cfg.Dataset.Backend == "" {
		cfg.Dataset.Backend = "postgres"
	}
	if cfg.Dataset.CompareMode == "" {
		cfg.Dataset.CompareMode = "numeric"
	}
	if cfg.Dataset.SampleSize == 0 {
		cfg.Dataset.SampleSize = 5
	}
	if cfg.Backfill.Workers == 0 {
		cfg.Backfill.Workers = 4
	}
	if cfg.Backfill.RetryAttempts == 0 {
		cfg.Backfill.RetryAttempts = 3
	}
	if cfg.Backfill.RetryDelay == 0 {
		cfg.Backfill.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Redis.LedgerTTL == 0 {
		cfg.Redis.LedgerTTL = 7 * 24 * time.Hour
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":9191"
	}

	// Enumerations
	switch cfg.Kafka.OffsetReset {
	case "earliest", "latest":
	default:
		fatal.Invalid = append(fatal.Invalid, "KAFKA_OFFSET_RESET")
	}
	switch cfg.Dataset.Backend {
	case "postgres", "mongo", "memory":
	default:
		fatal.Invalid = append(fatal.Invalid, "DATASET_BACKEND")
	}
	switch cfg.Dataset.CompareMode {
	case "numeric", "lexical":
	default:
		fatal.Invalid = append(fatal.Invalid, "TIMESTAMP_COMPARE")
	}
	if cfg.Dataset.Backend != "memory" && cfg.Dataset.DSN == "" {
		fatal.Missing = append(fatal.Missing, "DATASET_DSN")
	}
	if cfg.Dataset.Backend == "mongo" && cfg.Dataset.Database == "" {
		fatal.Missing = append(fatal.Missing, "DATASET_DATABASE")
	}

	if len(fatal.Missing) > 0 || len(fatal.Invalid) > 0 {
		return Config{}, fatal
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseInt(fatal *FatalConfigError, key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		fatal.Invalid = append(fatal.Invalid, key)
		return 0
	}
	return n
}

func parseDuration(fatal *FatalConfigError, key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		fatal.Invalid = append(fatal.Invalid, key)
		return 0
	}
	return d
}
