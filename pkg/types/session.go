// Package types provides the core data types for the codeloom server.
package types

// Session represents a conversation container tied to one working directory.
type Session struct {
	ID        string  `json:"id"`
	Slug      string  `json:"slug"`
	Title     string  `json:"title"`
	Directory string  `json:"directory"`
	ParentID  *string `json:"parentID,omitempty"`
	// Version counts persisted updates, starting at "1" on creation.
	Version     string      `json:"version"`
	Time        SessionTime `json:"time"`
	ResumeToken string      `json:"resumeToken,omitempty"`
	// MaxThinking is the default thinking-token budget for runs in this
	// session. Nil means provider default.
	MaxThinking *int `json:"maxThinking,omitempty"`
}

// SessionTime contains timestamps for a session. Updated is non-decreasing:
// every persisted message or part write bumps it.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// RunStatusType is the run status of a session as exposed via session.status
// events. A run moves idle -> busy -> idle, with retry as a sub-state of busy
// while the orchestrator backs off a transient provider error.
type RunStatusType string

const (
	RunStatusIdle  RunStatusType = "idle"
	RunStatusBusy  RunStatusType = "busy"
	RunStatusRetry RunStatusType = "retry"
)

// RunStatus is the status payload carried by session.status events.
type RunStatus struct {
	Type RunStatusType `json:"type"`
}

// SessionError is the error payload carried by session.error events and is
// also serialized onto the assistant message that failed.
type SessionError struct {
	Name string `json:"name"` // "ProviderError" | "AbortedError" | "UnknownError"
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// NewSessionError builds a SessionError with the given name and message.
func NewSessionError(name, message string) *SessionError {
	e := &SessionError{Name: name}
	e.Data.Message = message
	return e
}

// Error names used across the run lifecycle.
const (
	ErrorNameProvider = "ProviderError"
	ErrorNameAborted  = "AbortedError"
	ErrorNameUnknown  = "UnknownError"
)
