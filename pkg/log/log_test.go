package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitRejectsUnknownLevel tests that a typoed level fails loudly
func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}

// TestInitLevelFiltering tests per-logger level filtering
func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "warn", JSON: true, Output: &buf}))

	Logger.Info().Msg("hidden")
	Logger.Warn().Msg("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

// TestPipelineElidesRootForRoots tests the coordinate fields
func TestPipelineElidesRootForRoots(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "debug", JSON: true, Output: &buf}))

	Pipeline("p-root", "p-root").Info().Msg("root line")
	var rootLine map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rootLine))
	assert.Equal(t, "p-root", rootLine["pipeline_id"])
	assert.NotContains(t, rootLine, "root_pipeline_id")

	buf.Reset()
	Pipeline("p-root", "p-child").Info().Msg("child line")
	var childLine map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &childLine))
	assert.Equal(t, "p-child", childLine["pipeline_id"])
	assert.Equal(t, "p-root", childLine["root_pipeline_id"])
}

// TestComponent tests the component field
func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "debug", JSON: true, Output: &buf}))

	Component("engine").Info().Msg("line")
	assert.Contains(t, buf.String(), `"component":"engine"`)
}
