// Package run drives one provider call per conversational turn. It persists
// the resulting messages and parts incrementally, gates tool execution behind
// the permission arbiter, and enforces the single-active-run invariant per
// session.
package run

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/internal/permission"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/internal/tool"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Config holds orchestrator settings.
type Config struct {
	DefaultProviderID string
	DefaultModelID    string
	MaxTokens         int
	MaxSteps          int
	MaxRetries        int
	// CompactionThreshold is the input-token count above which the
	// conversation is compacted before the next step.
	CompactionThreshold int
	// CostPerInputToken / CostPerOutputToken price the recorded usage.
	CostPerInputToken  float64
	CostPerOutputToken float64
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           8192,
		MaxSteps:            50,
		MaxRetries:          3,
		CompactionThreshold: 150000,
	}
}

// SubmitOptions are per-submission overrides.
type SubmitOptions struct {
	ProviderID  string
	ModelID     string
	MaxThinking *int
}

// Orchestrator executes runs. At most one run is active per session; a second
// submission while a run is active fails with types.ErrSessionBusy rather
// than queueing.
type Orchestrator struct {
	store     *store.Store
	bus       *event.Bus
	arbiter   *permission.Arbiter
	providers *provider.Registry
	tools     *tool.Registry
	cfg       Config
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]*run
}

// run is the state of one in-flight turn.
type run struct {
	sessionID   string
	userMsgID   string
	assistantID string
	streamID    string
	cancel      context.CancelFunc
	done        chan struct{}

	seq int64

	// partCh feeds the persistence subscriber; the streaming loop and the
	// tool executor send part snapshots here instead of persisting inline.
	partCh   chan partUpdate
	partDone chan struct{}
}

type partUpdate struct {
	part  types.Part
	delta string
}

// New creates an Orchestrator.
func New(st *store.Store, bus *event.Bus, arbiter *permission.Arbiter, providers *provider.Registry, tools *tool.Registry, cfg Config) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultConfig().MaxSteps
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultConfig().CompactionThreshold
	}
	return &Orchestrator{
		store:     st,
		bus:       bus,
		arbiter:   arbiter,
		providers: providers,
		tools:     tools,
		cfg:       cfg,
		log:       logging.Component("run"),
		active:    make(map[string]*run),
	}
}

// Submit starts a run for the session. The user message and a placeholder
// assistant message are persisted synchronously before return; the provider
// call continues asynchronously. Returns the assistant message id.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, prompt string, opts SubmitOptions) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", types.ErrEmptyPrompt
	}

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	providerID := opts.ProviderID
	if providerID == "" {
		providerID = o.cfg.DefaultProviderID
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = o.cfg.DefaultModelID
	}

	now := time.Now().UnixMilli()
	userMsg := &types.Message{
		ID:        store.NewID(),
		SessionID: sessionID,
		Role:      "user",
		Time:      types.MessageTime{Created: now},
	}
	assistantMsg := &types.Message{
		ID:         store.NewID(),
		SessionID:  sessionID,
		Role:       "assistant",
		ParentID:   userMsg.ID,
		ProviderID: providerID,
		ModelID:    modelID,
		Time:       types.MessageTime{Created: now},
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		sessionID:   sessionID,
		userMsgID:   userMsg.ID,
		assistantID: assistantMsg.ID,
		streamID:    assistantMsg.ID,
		cancel:      cancel,
		done:        make(chan struct{}),
		partCh:      make(chan partUpdate, 64),
		partDone:    make(chan struct{}),
	}

	// Claim the session's run slot before persisting so a concurrent
	// submission observes SessionBusy, never a duplicate run.
	o.mu.Lock()
	if _, busy := o.active[sessionID]; busy {
		o.mu.Unlock()
		cancel()
		return "", types.ErrSessionBusy
	}
	o.active[sessionID] = r
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.active, sessionID)
		o.mu.Unlock()
		cancel()
	}

	if err := o.store.PutMessage(ctx, userMsg); err != nil {
		release()
		return "", err
	}
	userPart := &types.TextPart{
		PartBase: types.PartBase{
			ID:        store.NewID(),
			SessionID: sessionID,
			MessageID: userMsg.ID,
			Type:      types.PartText,
			Time:      types.PartTime{Start: &now, End: &now},
		},
		Text: prompt,
	}
	if err := o.store.PutPart(ctx, userPart); err != nil {
		release()
		return "", err
	}
	if err := o.store.PutMessage(ctx, assistantMsg); err != nil {
		release()
		return "", err
	}

	o.bus.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: userMsg}})
	o.bus.Publish(event.Event{Type: event.MessagePartUpdate, Data: event.MessagePartUpdatedData{Part: userPart}})
	o.bus.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: assistantMsg}})

	go o.persistParts(r)
	go o.execute(runCtx, r, session, assistantMsg, opts)

	return assistantMsg.ID, nil
}

// Abort cancels the session's active run if there is one. The run's
// cancellation token also unblocks any pending permission request as reject.
// Aborting an idle session is a no-op.
func (o *Orchestrator) Abort(sessionID string) error {
	o.mu.Lock()
	r, ok := o.active[sessionID]
	o.mu.Unlock()

	if !ok {
		return nil
	}

	r.cancel()
	<-r.done
	return nil
}

// Busy reports whether the session has an active run.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sessionID]
	return ok
}

// Wait blocks until the session's active run finishes. Used by tests and by
// graceful shutdown.
func (o *Orchestrator) Wait(sessionID string) {
	o.mu.Lock()
	r, ok := o.active[sessionID]
	o.mu.Unlock()
	if ok {
		<-r.done
	}
}

// persistParts is the persistence subscriber for one run: it serializes all
// part writes and part.updated events so the streaming loop and tool executor
// never mutate storage from two goroutines.
func (o *Orchestrator) persistParts(r *run) {
	defer close(r.partDone)
	for upd := range r.partCh {
		if err := o.store.PutPart(context.Background(), upd.part); err != nil {
			o.log.Error().Err(err).
				Str("sessionID", r.sessionID).
				Str("partID", upd.part.PartID()).
				Msg("persist part failed")
			continue
		}
		o.bus.Publish(event.Event{
			Type: event.MessagePartUpdate,
			Data: event.MessagePartUpdatedData{Part: upd.part, Delta: upd.delta},
		})
	}
}

func (r *run) savePart(part types.Part, delta string) {
	r.partCh <- partUpdate{part: part, delta: delta}
}

func (r *run) nextSeq() int64 {
	seq := r.seq
	r.seq++
	return seq
}

// emit publishes one envelope on the unified client-facing channel.
func (o *Orchestrator) emit(r *run, payload types.StreamPayload) {
	o.bus.Publish(event.Event{
		Type: event.StreamChunk,
		Data: event.StreamChunkData{Event: types.StreamEvent{
			StreamID:    r.streamID,
			Seq:         r.nextSeq(),
			SessionID:   r.sessionID,
			MessageID:   r.assistantID,
			TimestampMs: time.Now().UnixMilli(),
			Payload:     payload,
		}},
	})
}

func (o *Orchestrator) publishStatus(sessionID string, status types.RunStatusType) {
	o.bus.Publish(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{
			SessionID: sessionID,
			Status:    types.RunStatus{Type: status},
		},
	})
}
