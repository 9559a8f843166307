package event

import "github.com/codeloom-ai/codeloom/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionStatusData is the data for session.status events. Status events are
// out-of-band: they carry no stream sequence number.
type SessionStatusData struct {
	SessionID string          `json:"sessionID"`
	Status    types.RunStatus `json:"status"`
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	SessionID string              `json:"sessionID,omitempty"`
	Error     *types.SessionError `json:"error,omitempty"`
}

// MessageUpdatedData is the data for message.updated events. Info is a full
// message snapshot.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessagePartUpdatedData is the data for message.part.updated events. Part is
// a full part snapshot; Delta carries just the appended text for streamed
// fields.
type MessagePartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"`
}

// PermissionAskedData is the data for permission.asked events.
type PermissionAskedData struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Permission string         `json:"permission"`
	Patterns   []string       `json:"patterns,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Reply     string `json:"reply"` // "once" | "always" | "reject"
}

// StreamChunkData is the data for stream.event events: one envelope on the
// unified client-facing channel.
type StreamChunkData struct {
	Event types.StreamEvent `json:"event"`
}
