package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

// Config describes the consumer group and the batch window.
type Config struct {
	Brokers          []string
	Topics           []string
	GroupID          string
	OffsetReset      string // "earliest" or "latest"
	BatchInterval    time.Duration
	BatchMaxMessages int
	RetryBackoff     time.Duration
}

// Processor handles one batch of raw messages.
type Processor interface {
	ProcessBatch(ctx context.Context, msgs []models.RawMessage) models.BatchSummary
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer collects failure notifications into bounded batches and commits offsets
// only after a batch completes.
type Consumer struct {
	cfg       Config
	newReader func() MessageReader
	reader    MessageReader
	proc      Processor
	logger    *logging.Logger
}

// NewConsumer builds a consumer-group reader for cfg.Topics. Auto-commit is off:
// CommitInterval 0 makes CommitMessages synchronous and nothing else commits.
func NewConsumer(cfg Config, proc Processor, logger *logging.Logger) *Consumer {
	startOffset := kafka.LastOffset
	if cfg.OffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}
	return newConsumer(cfg, proc, logger, func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			GroupTopics:    cfg.Topics,
			StartOffset:    startOffset,
			CommitInterval: 0,
			MinBytes:       1,
			MaxBytes:       10e6,
		})
	})
}

func newConsumer(cfg Config, proc Processor, logger *logging.Logger, newReader func() MessageReader) *Consumer {
	if cfg.BatchMaxMessages < 1 {
		cfg.BatchMaxMessages = 1
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = time.Second
	}
	return &Consumer{
		cfg:       cfg,
		newReader: newReader,
		reader:    newReader(),
		proc:      proc,
		logger:    logger,
	}
}

// Start runs the batch loop in a goroutine tracked by wg until ctx is done.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started on topics %v (group %s)", c.cfg.Topics, c.cfg.GroupID)
		c.Run(ctx)
		c.logger.Info("Kafka consumer stopped")
	}()
}

// Run processes batches one after another until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		batch, err := c.collect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Error("Fetch message failed")
			c.reopen(ctx)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		summary := c.proc.ProcessBatch(ctx, toRaw(batch))
		if !summary.Complete() {
			// leave offsets where they are and rejoin so the group redelivers
			c.logger.WithField("batch_id", summary.BatchID).Warnf(
				"Batch incomplete, %d messages left uncommitted for redelivery", len(batch))
			c.reopen(ctx)
			continue
		}
		if err := c.reader.CommitMessages(ctx, batch...); err != nil {
			c.logger.WithError(err).WithField("batch_id", summary.BatchID).Error("Commit offsets failed")
			continue
		}
		c.logger.WithField("batch_id", summary.BatchID).Debugf("Committed %d messages", len(batch))
	}
}

// collect fetches until the batch is full or the batch interval elapses.
func (c *Consumer) collect(ctx context.Context) ([]kafka.Message, error) {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.BatchInterval)
	defer cancel()

	var batch []kafka.Message
	for len(batch) < c.cfg.BatchMaxMessages {
		msg, err := c.reader.FetchMessage(wctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (c *Consumer) reopen(ctx context.Context) {
	if err := c.reader.Close(); err != nil {
		c.logger.WithError(err).Warn("Close reader failed")
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.RetryBackoff):
	}
	c.reader = c.newReader()
}

// Close closes the current reader.
func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.WithError(err).Warn("Close reader failed")
	}
}

func toRaw(batch []kafka.Message) []models.RawMessage {
	out := make([]models.RawMessage, len(batch))
	for i, m := range batch {
		out[i] = models.RawMessage{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Value:     m.Value,
		}
	}
	return out
}
