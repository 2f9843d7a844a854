package models

import (
	"math/big"
	"regexp"
	"strings"
)

// FlagSuffix is appended to a device name to form its lag-feature field.
const FlagSuffix = "AboutToFail"

// NumericPattern matches timestamps that take part in numeric comparison.
// Stores use the same pattern so every backend agrees on which values are numeric.
const NumericPattern = `^\s*[-+]?[0-9]+(\.[0-9]*)?\s*$`

var numericTimestamp = regexp.MustCompile(NumericPattern)

// FailureEvent is a notification that a device entered a failure state at Timestamp.
type FailureEvent struct {
	Timestamp  string `json:"timestamp"`
	DeviceName string `json:"deviceName"`
}

// FlagField returns the name of the boolean field marking records of this device.
func (e FailureEvent) FlagField() string {
	return e.DeviceName + FlagSuffix
}

// Key identifies the event independently of how often it is delivered.
func (e FailureEvent) Key() string {
	return e.DeviceName + ":" + e.Timestamp
}

// DatasetRecord is one time-series document. Only ID and Timestamp are interpreted;
// Fields holds the whole document as read and is never written back.
// Key is the id exactly as the store holds it, when that differs from ID
// (e.g. a binary or compound Mongo _id). Updates target Key when it is set.
type DatasetRecord struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
	Key       any            `json:"-"`
}

// CompareMode selects how record timestamps are compared with a cutoff.
type CompareMode string

const (
	CompareNumeric CompareMode = "numeric"
	CompareLexical CompareMode = "lexical"
)

// Cutoff is the lower bound of a range read: records with timestamp >= Raw match.
// Value is set in numeric mode and compares exactly, at any number of digits.
type Cutoff struct {
	Raw   string
	Value *big.Rat
	Mode  CompareMode
}

// IsNumericTimestamp reports whether ts takes part in numeric comparison.
func IsNumericTimestamp(ts string) bool {
	return numericTimestamp.MatchString(ts)
}

// ParseDecimal parses a numeric timestamp exactly. ok is false when ts does not
// match NumericPattern.
func ParseDecimal(ts string) (*big.Rat, bool) {
	if !IsNumericTimestamp(ts) {
		return nil, false
	}
	// "300." is numeric but big.Rat wants digits after the point
	return new(big.Rat).SetString(strings.TrimSuffix(strings.TrimSpace(ts), "."))
}

// Includes reports whether a record timestamp falls at or after the cutoff.
func (c Cutoff) Includes(ts string) bool {
	if c.Mode == CompareLexical {
		return ts >= c.Raw
	}
	if c.Value == nil {
		return false
	}
	v, ok := ParseDecimal(ts)
	return ok && v.Cmp(c.Value) >= 0
}
