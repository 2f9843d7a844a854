package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"failure-backfill/internal/models"
)

const keyPrefix = "backfill:handled:"

// Entry is stored for every failure event whose backfill completed.
type Entry struct {
	Device    string `msgpack:"device"`
	Timestamp string `msgpack:"timestamp"`
	Matched   int    `msgpack:"matched"`
	Updated   int    `msgpack:"updated"`
	HandledAt int64  `msgpack:"handled_at"`
}

// Ledger remembers handled failure events in Redis so redelivered events are skipped.
type Ledger struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing client. A zero ttl keeps entries forever.
func New(rdb *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{rdb: rdb, ttl: ttl}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Ledger, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return New(rdb, ttl), nil
}

// Close closes the underlying client.
func (l *Ledger) Close() error {
	return l.rdb.Close()
}

func key(ev models.FailureEvent) string {
	return keyPrefix + ev.Key()
}

// IsHandled reports whether ev was already backfilled.
func (l *Ledger) IsHandled(ctx context.Context, ev models.FailureEvent) (bool, error) {
	n, err := l.rdb.Exists(ctx, key(ev)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", ev.Key(), err)
	}
	return n > 0, nil
}

// MarkHandled records a completed backfill for ev.
func (l *Ledger) MarkHandled(ctx context.Context, ev models.FailureEvent, matched, updated int) error {
	b, err := msgpack.Marshal(&Entry{
		Device:    ev.DeviceName,
		Timestamp: ev.Timestamp,
		Matched:   matched,
		Updated:   updated,
		HandledAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	if err := l.rdb.Set(ctx, key(ev), b, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write ledger entry for %s: %w", ev.Key(), err)
	}
	return nil
}

// Get returns the stored entry, or ok=false when ev was never handled.
func (l *Ledger) Get(ctx context.Context, ev models.FailureEvent) (Entry, bool, error) {
	b, err := l.rdb.Get(ctx, key(ev)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read ledger entry for %s: %w", ev.Key(), err)
	}
	var e Entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode ledger entry for %s: %w", ev.Key(), err)
	}
	return e, true, nil
}
