package permission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeloom-ai/codeloom/internal/event"
)

// Arbiter holds outstanding permission requests, resolves them from user
// replies or cancellation, and caches always-allow decisions per session.
// The cache is in-memory only: it is never persisted across process restarts
// and is cleared when the session is dropped.
type Arbiter struct {
	bus *event.Bus

	mu      sync.Mutex
	pending map[string]*pendingRequest     // requestID -> waiter
	allowed map[string]map[string]struct{} // sessionID -> permission key
}

type pendingRequest struct {
	req   Request
	reply chan Reply
}

// NewArbiter creates an Arbiter publishing on the given bus.
func NewArbiter(bus *event.Bus) *Arbiter {
	return &Arbiter{
		bus:     bus,
		pending: make(map[string]*pendingRequest),
		allowed: make(map[string]map[string]struct{}),
	}
}

// Ask resolves a permission request. If the session's always-allow cache
// already contains the request's key, it resolves immediately without user
// interaction and without registering a request. Otherwise it registers the
// request, emits permission.asked, and suspends until a reply arrives or ctx
// is cancelled; cancellation forces reject. permission.replied is emitted on
// every resolution path, including cancellation.
func (a *Arbiter) Ask(ctx context.Context, sessionID string, kind Kind, patterns []string, title string, metadata map[string]any) (Reply, error) {
	key := CacheKey(kind, patterns)

	a.mu.Lock()
	if cached, ok := a.allowed[sessionID]; ok {
		if _, ok := cached[key]; ok {
			a.mu.Unlock()
			return ReplyOnce, nil
		}
	}

	req := Request{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Kind:      kind,
		Patterns:  patterns,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: time.Now().UnixMilli(),
	}
	waiter := &pendingRequest{req: req, reply: make(chan Reply, 1)}
	a.pending[req.ID] = waiter
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
	}()

	a.bus.Publish(event.Event{
		Type: event.PermissionAsked,
		Data: event.PermissionAskedData{
			ID:         req.ID,
			SessionID:  sessionID,
			Permission: string(kind),
			Patterns:   patterns,
			Metadata:   metadata,
		},
	})

	var reply Reply
	select {
	case <-ctx.Done():
		reply = ReplyReject
	case reply = <-waiter.reply:
	}

	a.bus.Publish(event.Event{
		Type: event.PermissionReplied,
		Data: event.PermissionRepliedData{
			SessionID: sessionID,
			RequestID: req.ID,
			Reply:     string(reply),
		},
	})

	switch reply {
	case ReplyAlways:
		a.mu.Lock()
		if a.allowed[sessionID] == nil {
			a.allowed[sessionID] = make(map[string]struct{})
		}
		a.allowed[sessionID][key] = struct{}{}
		a.mu.Unlock()
		return ReplyAlways, nil
	case ReplyOnce:
		return ReplyOnce, nil
	default:
		return ReplyReject, &RejectedError{
			SessionID: sessionID,
			RequestID: req.ID,
			Kind:      kind,
			Message:   "permission rejected",
		}
	}
}

// Resolve delivers a user reply to the pending request with the given id.
func (a *Arbiter) Resolve(requestID string, reply Reply) error {
	a.mu.Lock()
	waiter, ok := a.pending[requestID]
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending permission request: %s", requestID)
	}

	select {
	case waiter.reply <- reply:
	default:
		// Already resolved.
	}
	return nil
}

// Pending returns the outstanding requests for a session, oldest first.
func (a *Arbiter) Pending(sessionID string) []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	var reqs []Request
	for _, waiter := range a.pending {
		if waiter.req.SessionID == sessionID {
			reqs = append(reqs, waiter.req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt != reqs[j].CreatedAt {
			return reqs[i].CreatedAt < reqs[j].CreatedAt
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs
}

// DropSession clears the always-allow cache for a session.
func (a *Arbiter) DropSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, sessionID)
}
