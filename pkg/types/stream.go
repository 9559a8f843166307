package types

import (
	"encoding/json"
	"fmt"
)

// StreamPayloadType discriminates the stream payload variants.
type StreamPayloadType string

const (
	StreamTextDelta         StreamPayloadType = "text_delta"
	StreamThinkingDelta     StreamPayloadType = "thinking_delta"
	StreamToolCallDelta     StreamPayloadType = "tool_call_delta"
	StreamToolCallCompleted StreamPayloadType = "tool_call_completed"
	StreamCompleted         StreamPayloadType = "completed"
	StreamError             StreamPayloadType = "error"
)

// StreamEvent is the envelope for the unified client-facing channel. Events
// sharing a StreamID must be applied in Seq order; no ordering holds across
// streams. Out-of-band session.status events travel on the event bus instead
// and carry no sequence number.
type StreamEvent struct {
	StreamID    string        `json:"streamId"`
	Seq         int64         `json:"seq"`
	SessionID   string        `json:"sessionId"`
	MessageID   string        `json:"messageId"`
	TimestampMs int64         `json:"timestampMs"`
	Payload     StreamPayload `json:"payload"`
}

// StreamPayload is the closed set of payload variants.
type StreamPayload interface {
	StreamPayloadType() StreamPayloadType
}

// TextDeltaPayload carries streamed assistant text. Text may be a true
// incremental delta or a cumulative resend of everything so far; the consumer
// reconciles either form.
type TextDeltaPayload struct {
	Type StreamPayloadType `json:"type"`
	Text string            `json:"text"`
}

func (p TextDeltaPayload) StreamPayloadType() StreamPayloadType { return StreamTextDelta }

// ThinkingDeltaPayload carries streamed reasoning text.
type ThinkingDeltaPayload struct {
	Type StreamPayloadType `json:"type"`
	Text string            `json:"text"`
}

func (p ThinkingDeltaPayload) StreamPayloadType() StreamPayloadType { return StreamThinkingDelta }

// ToolCallDeltaPayload creates or grows a tool call keyed by CallID.
type ToolCallDeltaPayload struct {
	Type       StreamPayloadType `json:"type"`
	CallID     string            `json:"callID"`
	Tool       string            `json:"tool,omitempty"`
	InputDelta string            `json:"inputDelta,omitempty"`
}

func (p ToolCallDeltaPayload) StreamPayloadType() StreamPayloadType { return StreamToolCallDelta }

// ToolCallCompletedPayload overwrites the final input, output, and error of
// the tool call with the same CallID.
type ToolCallCompletedPayload struct {
	Type   StreamPayloadType `json:"type"`
	CallID string            `json:"callID"`
	Input  json.RawMessage   `json:"input,omitempty"`
	Title  string            `json:"title,omitempty"`
	Output *string           `json:"output,omitempty"`
	Error  *string           `json:"error,omitempty"`
}

func (p ToolCallCompletedPayload) StreamPayloadType() StreamPayloadType {
	return StreamToolCallCompleted
}

// CompletedPayload terminates a stream normally.
type CompletedPayload struct {
	Type StreamPayloadType `json:"type"`
}

func (p CompletedPayload) StreamPayloadType() StreamPayloadType { return StreamCompleted }

// ErrorPayload terminates a stream with an error.
type ErrorPayload struct {
	Type    StreamPayloadType `json:"type"`
	Message string            `json:"message"`
}

func (p ErrorPayload) StreamPayloadType() StreamPayloadType { return StreamError }

// UnmarshalJSON decodes the envelope, dispatching the payload by its type tag.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		StreamID    string          `json:"streamId"`
		Seq         int64           `json:"seq"`
		SessionID   string          `json:"sessionId"`
		MessageID   string          `json:"messageId"`
		TimestampMs int64           `json:"timestampMs"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var probe struct {
		Type StreamPayloadType `json:"type"`
	}
	if err := json.Unmarshal(raw.Payload, &probe); err != nil {
		return err
	}

	var payload StreamPayload
	switch probe.Type {
	case StreamTextDelta:
		var p TextDeltaPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case StreamThinkingDelta:
		var p ThinkingDeltaPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case StreamToolCallDelta:
		var p ToolCallDeltaPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case StreamToolCallCompleted:
		var p ToolCallCompletedPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case StreamCompleted:
		var p CompletedPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case StreamError:
		var p ErrorPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	default:
		return fmt.Errorf("unknown stream payload type: %q", probe.Type)
	}

	e.StreamID = raw.StreamID
	e.Seq = raw.Seq
	e.SessionID = raw.SessionID
	e.MessageID = raw.MessageID
	e.TimestampMs = raw.TimestampMs
	e.Payload = payload
	return nil
}

// Terminal reports whether the event completes its stream. Once a terminal
// event is processed, all further events for the stream are dropped.
func (e *StreamEvent) Terminal() bool {
	switch e.Payload.(type) {
	case CompletedPayload, ErrorPayload:
		return true
	}
	return false
}
