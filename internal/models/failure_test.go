package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCutoffIncludes(t *testing.T) {
	numeric := Cutoff{Raw: "300", Value: big.NewRat(300, 1), Mode: CompareNumeric}
	assert.True(t, numeric.Includes("300"))
	assert.True(t, numeric.Includes("1000"))
	assert.True(t, numeric.Includes(" 300.5 "))
	assert.False(t, numeric.Includes("299"))
	assert.False(t, numeric.Includes("abc"))
	assert.False(t, numeric.Includes(""))

	lexical := Cutoff{Raw: "0000000300", Mode: CompareLexical}
	assert.True(t, lexical.Includes("0000000300"))
	assert.True(t, lexical.Includes("0000001000"))
	assert.False(t, lexical.Includes("0000000299"))
}

func TestCutoffIncludes_BeyondFloatPrecision(t *testing.T) {
	// epoch nanoseconds: t and t-1 are the same float64
	v, ok := ParseDecimal("1700000000000000001")
	require.True(t, ok)
	c := Cutoff{Raw: "1700000000000000001", Value: v, Mode: CompareNumeric}

	assert.True(t, c.Includes("1700000000000000001"))
	assert.True(t, c.Includes("1700000000000000002"))
	assert.False(t, c.Includes("1700000000000000000"))
	assert.False(t, c.Includes("1700000000000000000.999"))
}

func TestParseDecimal(t *testing.T) {
	for _, ts := range []string{"300", " 300 ", "+300", "300.", "0000000300", "300.0"} {
		v, ok := ParseDecimal(ts)
		require.True(t, ok, ts)
		assert.Zero(t, v.Cmp(big.NewRat(300, 1)), ts)
	}
	for _, ts := range []string{"", "abc", "1e9", "0x10", "3 00"} {
		_, ok := ParseDecimal(ts)
		assert.False(t, ok, ts)
	}
}

func TestFailureEvent(t *testing.T) {
	ev := FailureEvent{Timestamp: "300", DeviceName: "Chiller1"}
	assert.Equal(t, "Chiller1AboutToFail", ev.FlagField())
	assert.Equal(t, "Chiller1:300", ev.Key())
}

func TestBatchSummaryComplete(t *testing.T) {
	assert.True(t, BatchSummary{}.Complete())
	assert.True(t, BatchSummary{Events: []EventOutcome{{State: StateDone}, {State: StateSkipped}}}.Complete())
	assert.False(t, BatchSummary{Events: []EventOutcome{{State: StateDone}, {State: StateFailed}}}.Complete())
}
