// Package mergetext reconciles streamed text fragments into accumulated
// content. The same algorithm serves the run orchestrator, which rebuilds
// full text from provider fragment sequences, and the stream reconciler on
// the consuming side.
package mergetext

import "strings"

// Merge combines accumulated text with an incoming fragment. The fragment may
// be a true incremental delta, a cumulative resend of everything so far, a
// stale duplicate, or a chunk that overlaps the tail of what we already have:
//
//   - incoming extends existing (prefix match): take incoming
//   - existing already contains incoming: keep existing
//   - tail of existing overlaps head of incoming: append the remainder
//   - no overlap: append verbatim
func Merge(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	if strings.HasPrefix(incoming, existing) {
		return incoming
	}
	if strings.HasPrefix(existing, incoming) {
		return existing
	}

	max := len(incoming)
	if len(existing) < max {
		max = len(existing)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(existing, incoming[:k]) {
			return existing + incoming[k:]
		}
	}
	return existing + incoming
}

// Delta returns the suffix of merged that extends existing. It is what a
// message.part.updated event should carry as its delta field.
func Delta(existing, merged string) string {
	if strings.HasPrefix(merged, existing) {
		return merged[len(existing):]
	}
	return merged
}
