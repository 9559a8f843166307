package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalPart_Dispatch(t *testing.T) {
	data := []byte(`{
		"id": "p1", "sessionID": "s1", "messageID": "m1", "type": "tool",
		"callID": "call_1", "tool": "bash",
		"input": {"cmd": "ls"}, "status": "running", "title": "ls"
	}`)

	part, err := UnmarshalPart(data)
	require.NoError(t, err)

	tool, ok := part.(*ToolPart)
	require.True(t, ok)
	assert.Equal(t, "call_1", tool.CallID)
	assert.Equal(t, ToolRunning, tool.Status)
	assert.Equal(t, PartTool, tool.PartKind())
	assert.Equal(t, "m1", tool.PartMessageID())
	assert.Equal(t, "s1", tool.PartSessionID())
}

func TestUnmarshalPart_UnknownKindRejected(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"id": "p1", "type": "hologram"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hologram")
}

func TestPart_RoundTrip(t *testing.T) {
	start := int64(1000)
	original := &StepFinishPart{
		PartBase: PartBase{
			ID: "p1", SessionID: "s1", MessageID: "m1",
			Type: PartStepFinish,
			Time: PartTime{Start: &start, End: &start},
		},
		Cost:   0.02,
		Tokens: TokenUsage{Input: 100, Output: 30},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	part, err := UnmarshalPart(data)
	require.NoError(t, err)
	assert.Equal(t, original, part)
}
