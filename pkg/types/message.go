package types

// Message represents one turn (user or assistant) within a session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	Time      MessageTime `json:"time"`

	// ParentID links an assistant message to the user message that
	// triggered it.
	ParentID string `json:"parentID,omitempty"`

	// Assistant-specific fields. Cost and Tokens are filled in only when
	// the message completes.
	ProviderID string        `json:"providerID,omitempty"`
	ModelID    string        `json:"modelID,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *SessionError `json:"error,omitempty"`
}

// Completed reports whether the message has been marked completed. Parts of a
// completed message are frozen.
func (m *Message) Completed() bool {
	return m.Time.Completed != nil
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// TokenUsage contains token usage by kind for a completed assistant message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains prompt-cache read/write token counts.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}
