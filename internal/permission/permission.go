// Package permission provides human-in-the-loop arbitration for gated tool
// calls. Outstanding requests suspend the run until a user reply arrives or
// the run's cancellation token fires, which forces a reject.
package permission

import (
	"sort"
	"strings"
)

// Kind classifies what a permission request is asking for.
type Kind string

const (
	KindBash        Kind = "bash"
	KindEdit        Kind = "edit"
	KindWebFetch    Kind = "webfetch"
	KindExternalDir Kind = "external_directory"
)

// Reply is a user's resolution of a permission request.
type Reply string

const (
	ReplyOnce   Reply = "once"
	ReplyAlways Reply = "always"
	ReplyReject Reply = "reject"
)

// ParseReply validates a reply string from the wire.
func ParseReply(s string) (Reply, bool) {
	switch Reply(s) {
	case ReplyOnce, ReplyAlways, ReplyReject:
		return Reply(s), true
	}
	return "", false
}

// Request describes a pending permission request.
type Request struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Kind      Kind           `json:"kind"`
	Patterns  []string       `json:"patterns,omitempty"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// Key returns the normalized permission key for the request: the kind plus
// the sorted distinct patterns. Always-allow decisions are cached under this
// key, so two requests asking for the same thing in a different pattern order
// share one decision.
func (r *Request) Key() string {
	return CacheKey(r.Kind, r.Patterns)
}

// CacheKey builds the normalized key for a kind and pattern set.
func CacheKey(kind Kind, patterns []string) string {
	distinct := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		distinct = append(distinct, p)
	}
	sort.Strings(distinct)
	return string(kind) + "\x00" + strings.Join(distinct, "\x00")
}

// RejectedError is returned when a permission request resolves to reject. It
// terminates only the triggering tool call; the run continues.
type RejectedError struct {
	SessionID string
	RequestID string
	Kind      Kind
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejected checks if an error is a permission rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}
