package models

import "time"

// RawMessage is one inbound message as delivered by the transport.
type RawMessage struct {
	Topic     string `json:"topic,omitempty"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Value     []byte `json:"-"`
}

// EventState tracks a failure event through one processing cycle.
type EventState string

const (
	StateReceived EventState = "received"
	StateDecoded  EventState = "decoded"
	StateSelected EventState = "selected"
	StateUpdated  EventState = "updated"
	StateDone     EventState = "done"
	StateSkipped  EventState = "skipped"
	StateFailed   EventState = "failed"
)

// RecordSample echoes one updated record for the batch report.
type RecordSample struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	FeatureField string `json:"feature_field,omitempty"`
	FeatureValue any    `json:"feature_value,omitempty"`
	FlagField    string `json:"flag_field"`
	FlagValue    bool   `json:"flag_value"`
}

// EventOutcome is the result of processing one failure event.
type EventOutcome struct {
	Event     FailureEvent   `json:"event"`
	Source    RawMessage     `json:"source"`
	State     EventState     `json:"state"`
	Matched   int            `json:"matched"`
	Updated   int            `json:"updated"`
	Unchanged int            `json:"unchanged"`
	Missing   int            `json:"missing"`
	Failed    int            `json:"failed"`
	Error     string         `json:"error,omitempty"`
	Samples   []RecordSample `json:"samples,omitempty"`
}

// BatchSummary is reported once per processed batch.
type BatchSummary struct {
	BatchID        string         `json:"batch_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Messages       int            `json:"messages"`
	DecodeFailures int            `json:"decode_failures"`
	TotalRecords   int64          `json:"total_records"`
	Matched        int            `json:"matched"`
	Updated        int            `json:"updated"`
	Unchanged      int            `json:"unchanged"`
	Missing        int            `json:"missing"`
	Failed         int            `json:"failed"`
	Events         []EventOutcome `json:"events"`
}

// Complete reports whether every decoded event reached a terminal success state.
// Decode failures do not count: malformed messages are never retried.
func (s BatchSummary) Complete() bool {
	for _, ev := range s.Events {
		if ev.State != StateDone && ev.State != StateSkipped {
			return false
		}
	}
	return true
}
