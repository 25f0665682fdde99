package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBarrierKeys tests the composite key layout
func TestBarrierKeys(t *testing.T) {
	barrier := &BarrierRecord{TargetPipelineID: "p-1", Purpose: PurposeFinalize}
	assert.Equal(t, "p-1/finalize", barrier.Key())
	assert.Equal(t, barrier.Key(), BarrierKey("p-1", PurposeFinalize))
}

// TestBarrierIndexKeys tests the slot-leading index key layout
func TestBarrierIndexKeys(t *testing.T) {
	entry := &BarrierIndexEntry{
		SlotID:           "s-1",
		TargetPipelineID: "p-2",
		Purpose:          PurposeStart,
	}
	key := entry.Key()
	assert.Equal(t, "s-1/p-2/start", key)
	assert.Equal(t, "s-1/", BarrierIndexPrefix("s-1"))

	slotID, targetID, purpose, ok := ParseBarrierIndexKey(key)
	require.True(t, ok)
	assert.Equal(t, "s-1", slotID)
	assert.Equal(t, "p-2", targetID)
	assert.Equal(t, PurposeStart, purpose)

	_, _, _, ok = ParseBarrierIndexKey("malformed")
	assert.False(t, ok)
}

// TestTerminal tests the terminal-state predicate
func TestTerminal(t *testing.T) {
	assert.False(t, PipelineWaiting.Terminal())
	assert.False(t, PipelineRun.Terminal())
	assert.True(t, PipelineDone.Terminal())
	assert.True(t, PipelineAborted.Terminal())
}

// TestParamsSlotRefs tests dependency collection and de-duplication
func TestParamsSlotRefs(t *testing.T) {
	params := &ParamsRecord{
		Args: []ArgSpec{
			{Type: ArgValue, Value: "x"},
			{Type: ArgSlot, SlotKey: "s-1"},
		},
		Kwargs: map[string]ArgSpec{
			"a": {Type: ArgSlot, SlotKey: "s-2"},
			"b": {Type: ArgSlot, SlotKey: "s-1"},
		},
		AfterAll: []string{"s-3", "s-2"},
	}

	refs := params.SlotRefs()
	assert.ElementsMatch(t, []string{"s-1", "s-2", "s-3"}, refs)
}

// TestParamsRoundTrip tests encode/decode preserving number types
func TestParamsRoundTrip(t *testing.T) {
	params := &ParamsRecord{
		ClassPath: "demo.Echo",
		Args: []ArgSpec{
			{Type: ArgValue, Value: int64(7)},
		},
		OutputSlots:    map[string]string{"default": "s-d"},
		MaxAttempts:    3,
		BackoffSeconds: 15,
		BackoffFactor:  2,
	}

	text, err := EncodeParams(params)
	require.NoError(t, err)

	got, err := DecodeParams(text)
	require.NoError(t, err)
	assert.Equal(t, "demo.Echo", got.ClassPath)
	assert.Equal(t, 3, got.MaxAttempts)
	require.Len(t, got.Args, 1)
	// Immediate values decode as json.Number so the codec can restore
	// their original type.
	assert.Equal(t, json.Number("7"), got.Args[0].Value)
}
