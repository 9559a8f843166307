// Package reconcile turns a continuous, possibly out-of-order, possibly
// duplicated stream of fine-grained events into a stable, bounded view of a
// conversation. It buffers out-of-order arrivals per stream, merges
// incremental deltas into whole values, deduplicates optimistic local entries
// against confirmed server state, and materializes a presentation-ready item
// list.
package reconcile

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/internal/mergetext"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// DefaultGapTimeout is how long a missing sequence number may block a stream
// before it is skipped. Liveness over completeness: skipped content is
// permanently lost for that stream.
const DefaultGapTimeout = 5 * time.Second

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithGapTimeout overrides the gap timeout.
func WithGapTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.gapTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler consumes events keyed by stream id and maintains the
// materialized thread. It is designed for single-threaded cooperative use on
// the consuming side but tolerates events for multiple concurrent streams
// interleaved on that loop; each stream buffer is independent.
type Reconciler struct {
	log        zerolog.Logger
	now        func() time.Time
	gapTimeout time.Duration

	mu      sync.Mutex
	buffers map[string]*streamBuffer
	msgs    map[string]*messageState
	pending []*pendingEntry

	nextMsgArrival  int
	nextItemArrival int
	arrivalByKey    map[string]int
	nextPendingID   int

	items []*ThreadItem
}

type pendingEntry struct {
	id      string
	text    string
	localAt time.Time
	// arrival is drawn from the same counter as message arrivals so pending
	// entries interleave with confirmed messages in the timestamp sort.
	arrival int
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		log:          logging.Component("reconcile"),
		now:          time.Now,
		gapTimeout:   DefaultGapTimeout,
		buffers:      make(map[string]*streamBuffer),
		msgs:         make(map[string]*messageState),
		arrivalByKey: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the reconciler to a bus, feeding it stream envelopes and
// message/part snapshots. Returns an unsubscribe function; stream buffers are
// dropped when the subscription ends.
func (r *Reconciler) Attach(bus *event.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(event.StreamChunk, func(e event.Event) {
			if data, ok := e.Data.(event.StreamChunkData); ok {
				r.HandleEvent(data.Event)
			}
		}),
		bus.Subscribe(event.MessageUpdated, func(e event.Event) {
			if data, ok := e.Data.(event.MessageUpdatedData); ok {
				r.ApplyMessage(data.Info)
			}
		}),
		bus.Subscribe(event.MessagePartUpdate, func(e event.Event) {
			if data, ok := e.Data.(event.MessagePartUpdatedData); ok {
				r.ApplyPart(data.Part)
			}
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
		r.mu.Lock()
		r.buffers = make(map[string]*streamBuffer)
		r.mu.Unlock()
	}
}

// Run periodically expires stream gaps until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckGaps()
		}
	}
}

// HandleEvent ingests one stream envelope. Events for a completed stream are
// dropped. Contiguous events apply immediately; out-of-order ones wait in the
// stream's buffer until the gap fills or times out.
func (r *Reconciler) HandleEvent(ev types.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[ev.StreamID]
	if !ok {
		buf = newStreamBuffer()
		r.buffers[ev.StreamID] = buf
	}
	if buf.completed {
		return
	}
	if !buf.insert(ev) {
		return
	}

	buf.flush(r.now(), r.applyEvent)
	r.materialize()
}

// CheckGaps skips gaps that have outlived the gap timeout and resumes
// flushing. Skips are logged: they mean permanent data loss for the stream.
func (r *Reconciler) CheckGaps() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	changed := false
	for id, buf := range r.buffers {
		from, to, ok := buf.expireGap(now, r.gapTimeout)
		if !ok {
			continue
		}
		r.log.Warn().
			Str("streamID", id).
			Int64("from", from).
			Int64("to", to).
			Msg("gap timeout, skipping missing events")
		buf.flush(now, r.applyEvent)
		changed = true
	}
	if changed {
		r.materialize()
	}
}

// AddPending registers a locally-originated provisional user message awaiting
// server confirmation. Returns its provisional id.
func (r *Reconciler) AddPending(text string, at time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextPendingID++
	entry := &pendingEntry{
		id:      "pending-" + strconv.Itoa(r.nextPendingID),
		text:    text,
		localAt: at,
		arrival: r.nextMsgArrival,
	}
	r.nextMsgArrival++
	r.pending = append(r.pending, entry)
	r.materialize()
	return entry.id
}

// ApplyMessage ingests a full message snapshot (message.updated or history
// load).
func (r *Reconciler) ApplyMessage(msg *types.Message) {
	if msg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := r.message(msg.ID)
	ms.role = msg.Role
	ms.created = msg.Time.Created
	ms.completed = msg.Completed()
	r.materialize()
}

// ApplyPart ingests a full part snapshot.
func (r *Reconciler) ApplyPart(part types.Part) {
	if part == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := r.message(part.PartMessageID())
	switch p := part.(type) {
	case *types.TextPart:
		ms.text = mergetext.Merge(ms.text, p.Text)
	case *types.ReasoningPart:
		ms.reasoning = mergetext.Merge(ms.reasoning, p.Text)
	case *types.ToolPart:
		ts := ms.tool(p.CallID)
		ts.name = p.Tool
		ts.title = p.Title
		ts.status = p.Status
		if len(p.Input) > 0 {
			ts.input = string(p.Input)
		}
		if p.Output != nil {
			ts.output = *p.Output
		}
		if p.Error != nil {
			ts.errMsg = *p.Error
		}
	case *types.PatchPart:
		ms.upsertPatch(p)
	case *types.StepFinishPart:
		ms.upsertStep(p)
	case *types.AgentPart, *types.CompactionPart:
		// Not part of the presentation-facing item set.
	}
	r.materialize()
}

// Thread returns the current materialized item list. Items unchanged since
// the previous materialization keep their identity, so a presentation layer
// can skip re-rendering untouched rows.
func (r *Reconciler) Thread() []*ThreadItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ThreadItem, len(r.items))
	copy(out, r.items)
	return out
}

// LastSeq returns the highest contiguously applied sequence number for a
// stream, or -1 when the stream is unknown.
func (r *Reconciler) LastSeq(streamID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[streamID]; ok {
		return buf.lastSeq
	}
	return -1
}

// applyEvent folds one in-order stream event into its message's state.
// Callers hold r.mu.
func (r *Reconciler) applyEvent(ev types.StreamEvent) {
	ms := r.message(ev.MessageID)
	if ms.role == "" {
		ms.role = "assistant"
	}
	if ms.created == 0 {
		ms.created = ev.TimestampMs
	}

	switch p := ev.Payload.(type) {
	case types.TextDeltaPayload:
		ms.text = mergetext.Merge(ms.text, p.Text)
	case types.ThinkingDeltaPayload:
		ms.reasoning = mergetext.Merge(ms.reasoning, p.Text)
	case types.ToolCallDeltaPayload:
		ts := ms.tool(p.CallID)
		if p.Tool != "" {
			ts.name = p.Tool
		}
		if ts.status == "" {
			ts.status = types.ToolPending
		}
		ts.input = mergetext.Merge(ts.input, p.InputDelta)
	case types.ToolCallCompletedPayload:
		ts := ms.tool(p.CallID)
		if len(p.Input) > 0 {
			ts.input = string(p.Input)
		}
		ts.title = p.Title
		ts.status = types.ToolCompleted
		if p.Output != nil {
			ts.output = *p.Output
		}
		if p.Error != nil {
			ts.errMsg = *p.Error
			ts.status = types.ToolError
		}
	case types.CompletedPayload:
		ms.completed = true
	case types.ErrorPayload:
		ms.completed = true
		ms.errMsg = p.Message
	}
}

// message returns the tracked state for a message id, creating it on first
// sight with the next arrival index.
func (r *Reconciler) message(id string) *messageState {
	ms, ok := r.msgs[id]
	if !ok {
		ms = &messageState{
			id:      id,
			arrival: r.nextMsgArrival,
			tools:   make(map[string]*toolState),
		}
		r.nextMsgArrival++
		r.msgs[id] = ms
	}
	return ms
}
