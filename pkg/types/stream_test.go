package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEvent_UnmarshalDispatch(t *testing.T) {
	data := []byte(`{
		"streamId": "m1", "seq": 7, "sessionId": "s1", "messageId": "m1",
		"timestampMs": 1234,
		"payload": {"type": "text_delta", "text": "hello"}
	}`)

	var ev StreamEvent
	require.NoError(t, json.Unmarshal(data, &ev))

	assert.Equal(t, "m1", ev.StreamID)
	assert.Equal(t, int64(7), ev.Seq)
	payload, ok := ev.Payload.(TextDeltaPayload)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Text)
	assert.False(t, ev.Terminal())
}

func TestStreamEvent_UnmarshalToolCompleted(t *testing.T) {
	data := []byte(`{
		"streamId": "m1", "seq": 3, "sessionId": "s1", "messageId": "m1",
		"timestampMs": 1234,
		"payload": {
			"type": "tool_call_completed", "callID": "call_1",
			"input": {"cmd": "ls"}, "title": "ls", "output": "README.md"
		}
	}`)

	var ev StreamEvent
	require.NoError(t, json.Unmarshal(data, &ev))

	payload, ok := ev.Payload.(ToolCallCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, "call_1", payload.CallID)
	require.NotNil(t, payload.Output)
	assert.Equal(t, "README.md", *payload.Output)
	assert.Nil(t, payload.Error)
}

func TestStreamEvent_UnknownPayloadRejected(t *testing.T) {
	data := []byte(`{
		"streamId": "m1", "seq": 0, "sessionId": "s1", "messageId": "m1",
		"timestampMs": 1,
		"payload": {"type": "telepathy_delta"}
	}`)

	var ev StreamEvent
	err := json.Unmarshal(data, &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy_delta")
}

func TestStreamEvent_Terminal(t *testing.T) {
	completed := StreamEvent{Payload: CompletedPayload{Type: StreamCompleted}}
	assert.True(t, completed.Terminal())

	failed := StreamEvent{Payload: ErrorPayload{Type: StreamError, Message: "boom"}}
	assert.True(t, failed.Terminal())

	delta := StreamEvent{Payload: TextDeltaPayload{Type: StreamTextDelta, Text: "x"}}
	assert.False(t, delta.Terminal())
}

func TestStreamEvent_RoundTrip(t *testing.T) {
	original := StreamEvent{
		StreamID:    "m1",
		Seq:         42,
		SessionID:   "s1",
		MessageID:   "m1",
		TimestampMs: 9999,
		Payload:     ThinkingDeltaPayload{Type: StreamThinkingDelta, Text: "hmm"},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded StreamEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
