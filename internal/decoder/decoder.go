package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"failure-backfill/internal/models"
)

// ErrInvalidEvent is wrapped by every DecodeError.
var ErrInvalidEvent = errors.New("invalid failure event")

// failureEventSchema is the inbound message contract. deviceName becomes part of a
// document field name, so it may not start with '$' or contain '.'.
const failureEventSchema = `{
	"type": "object",
	"required": ["timestamp", "deviceName"],
	"properties": {
		"timestamp": {"type": "string", "minLength": 1},
		"deviceName": {"type": "string", "minLength": 1, "pattern": "^[^$.][^.]*$"}
	}
}`

// DecodeError reports a message that could not be turned into a FailureEvent.
type DecodeError struct {
	Source models.RawMessage
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %s/%d@%d: %v", e.Source.Topic, e.Source.Partition, e.Source.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoded pairs an event with the message it came from.
type Decoded struct {
	Event  models.FailureEvent
	Source models.RawMessage
}

// Decoder validates inbound messages against the failure event schema.
type Decoder struct {
	schema *jsonschema.Schema
}

// New compiles the failure event schema.
func New() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("failure_event.json", strings.NewReader(failureEventSchema)); err != nil {
		return nil, fmt.Errorf("add failure event schema: %w", err)
	}
	schema, err := compiler.Compile("failure_event.json")
	if err != nil {
		return nil, fmt.Errorf("compile failure event schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode parses one message payload. Invalid UTF-8 is rejected rather than
// replaced, since the device name becomes part of a field name.
func (d *Decoder) Decode(payload []byte) (models.FailureEvent, error) {
	if !utf8.Valid(payload) {
		return models.FailureEvent{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidEvent)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return models.FailureEvent{}, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidEvent, err)
	}
	if err := d.schema.Validate(value); err != nil {
		return models.FailureEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	// the schema guarantees both fields are non-empty strings
	obj := value.(map[string]any)
	return models.FailureEvent{
		Timestamp:  obj["timestamp"].(string),
		DeviceName: obj["deviceName"].(string),
	}, nil
}

// DecodeBatch decodes every message, keeping successes in input order. A bad message
// never stops the remaining ones from being decoded.
func (d *Decoder) DecodeBatch(msgs []models.RawMessage) ([]Decoded, []*DecodeError) {
	events := make([]Decoded, 0, len(msgs))
	var failures []*DecodeError
	for _, msg := range msgs {
		ev, err := d.Decode(msg.Value)
		if err != nil {
			failures = append(failures, &DecodeError{Source: msg, Err: err})
			continue
		}
		events = append(events, Decoded{Event: ev, Source: msg})
	}
	return events, failures
}
