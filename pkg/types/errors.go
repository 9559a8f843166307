package types

import "errors"

// Request-level errors surfaced to callers. SessionBusy is not retried by the
// server; the caller must wait for the session to go idle.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy")
	ErrEmptyPrompt     = errors.New("prompt is empty")
)
