package run

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// newRetryBackoff creates the exponential backoff with jitter used for
// transient provider errors.
func newRetryBackoff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// execute is the asynchronous half of a run. It owns the session's run slot
// until it settles: success, provider error, and abort all converge to idle.
func (o *Orchestrator) execute(ctx context.Context, r *run, session *types.Session, msg *types.Message, opts SubmitOptions) {
	defer func() {
		close(r.partCh)
		<-r.partDone
		o.mu.Lock()
		delete(o.active, r.sessionID)
		o.mu.Unlock()
		r.cancel()
		close(r.done)
	}()

	o.publishStatus(r.sessionID, types.RunStatusBusy)

	prov, ok := o.providers.Get(msg.ProviderID)
	if !ok {
		o.settleError(r, msg, types.ErrorNameProvider, "provider not configured: "+msg.ProviderID)
		return
	}

	convo, err := o.loadConversation(ctx, r)
	if err != nil {
		o.settleError(r, msg, types.ErrorNameUnknown, err.Error())
		return
	}

	maxThinking := 0
	if opts.MaxThinking != nil {
		maxThinking = *opts.MaxThinking
	} else if session.MaxThinking != nil {
		maxThinking = *session.MaxThinking
	}

	usage := types.TokenUsage{}
	retry := newRetryBackoff(ctx, o.cfg.MaxRetries)

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			o.settleAborted(r, msg)
			return
		default:
		}

		if step >= o.cfg.MaxSteps {
			o.settleError(r, msg, types.ErrorNameUnknown, "maximum steps reached")
			return
		}

		if usage.Input > o.cfg.CompactionThreshold {
			convo = o.compact(r, convo)
		}

		req := &provider.Request{
			Model:       msg.ModelID,
			Messages:    convo,
			Tools:       o.resolveTools(),
			MaxTokens:   o.cfg.MaxTokens,
			MaxThinking: maxThinking,
			ResumeToken: session.ResumeToken,
		}

		stream, err := prov.Stream(ctx, req)
		if err != nil {
			if !o.waitRetry(ctx, r, retry) {
				o.settle(ctx, r, msg, err.Error())
				return
			}
			continue
		}

		result, err := o.processStream(ctx, r, stream)
		stream.Close()
		if err != nil {
			if ctx.Err() != nil {
				o.settleAborted(r, msg)
				return
			}
			if !o.waitRetry(ctx, r, retry) {
				o.settle(ctx, r, msg, err.Error())
				return
			}
			continue
		}
		retry.Reset()

		usage.Input += result.usage.Input
		usage.Output += result.usage.Output
		usage.Reasoning += result.usage.Reasoning
		o.saveStepFinish(r, result.usage)

		if len(result.toolCalls) > 0 {
			// The assistant's tool calls and their results both join the
			// conversation for the next step.
			convo = append(convo, result.assistantMessage())
			toolMsgs, err := o.executeToolCalls(ctx, r, result.toolCalls)
			if err != nil {
				o.settleAborted(r, msg)
				return
			}
			convo = append(convo, toolMsgs...)
			continue
		}

		msg.Tokens = &usage
		msg.Cost = float64(usage.Input)*o.cfg.CostPerInputToken +
			float64(usage.Output)*o.cfg.CostPerOutputToken

		if result.finish == "max_tokens" || result.finish == "length" {
			o.settleError(r, msg, types.ErrorNameUnknown, "output length limit reached")
			return
		}
		o.settleSuccess(r, msg)
		return
	}
}

// waitRetry publishes the retry status, sleeps for the next backoff interval,
// and restores busy. It returns false when retries are exhausted.
func (o *Orchestrator) waitRetry(ctx context.Context, r *run, retry backoff.BackOff) bool {
	next := retry.NextBackOff()
	if next == backoff.Stop {
		return false
	}

	o.publishStatus(r.sessionID, types.RunStatusRetry)
	o.log.Warn().
		Str("sessionID", r.sessionID).
		Dur("backoff", next).
		Msg("provider error, retrying")

	select {
	case <-ctx.Done():
		return false
	case <-time.After(next):
	}

	o.publishStatus(r.sessionID, types.RunStatusBusy)
	return true
}

// settle records a run failure, distinguishing abort from provider errors.
func (o *Orchestrator) settle(ctx context.Context, r *run, msg *types.Message, cause string) {
	if ctx.Err() != nil {
		o.settleAborted(r, msg)
		return
	}
	o.settleError(r, msg, types.ErrorNameProvider, cause)
}

func (o *Orchestrator) settleSuccess(r *run, msg *types.Message) {
	o.finishMessage(r, msg, nil)
	o.emit(r, types.CompletedPayload{Type: types.StreamCompleted})
	o.publishStatus(r.sessionID, types.RunStatusIdle)
	o.bus.Publish(event.Event{Type: event.SessionIdle, Data: event.SessionIdleData{SessionID: r.sessionID}})
}

// settleAborted records a user-initiated abort. Abort is not an error outcome
// for alerting purposes: it emits session.idle, not session.error.
func (o *Orchestrator) settleAborted(r *run, msg *types.Message) {
	o.finishMessage(r, msg, types.NewSessionError(types.ErrorNameAborted, "run aborted"))
	o.emit(r, types.ErrorPayload{Type: types.StreamError, Message: "run aborted"})
	o.publishStatus(r.sessionID, types.RunStatusIdle)
	o.bus.Publish(event.Event{Type: event.SessionIdle, Data: event.SessionIdleData{SessionID: r.sessionID}})
}

func (o *Orchestrator) settleError(r *run, msg *types.Message, name, cause string) {
	sessionErr := types.NewSessionError(name, cause)
	o.finishMessage(r, msg, sessionErr)
	o.emit(r, types.ErrorPayload{Type: types.StreamError, Message: cause})
	o.publishStatus(r.sessionID, types.RunStatusIdle)
	o.bus.Publish(event.Event{
		Type: event.SessionError,
		Data: event.SessionErrorData{SessionID: r.sessionID, Error: sessionErr},
	})
	o.log.Error().
		Str("sessionID", r.sessionID).
		Str("error", name).
		Str("cause", cause).
		Msg("run failed")
}

// finishMessage marks the assistant message completed (with an optional error
// outcome) and publishes the final snapshot. Parts of the message freeze at
// this point.
func (o *Orchestrator) finishMessage(r *run, msg *types.Message, runErr *types.SessionError) {
	now := time.Now().UnixMilli()
	msg.Time.Completed = &now
	msg.Error = runErr

	if err := o.store.PutMessage(context.Background(), msg); err != nil {
		o.log.Error().Err(err).Str("messageID", msg.ID).Msg("persist final message failed")
	}
	o.bus.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: msg}})
}

// saveStepFinish persists the per-step cost and token breakdown.
func (o *Orchestrator) saveStepFinish(r *run, usage types.TokenUsage) {
	now := time.Now().UnixMilli()
	r.savePart(&types.StepFinishPart{
		PartBase: types.PartBase{
			ID:        store.NewID(),
			SessionID: r.sessionID,
			MessageID: r.assistantID,
			Type:      types.PartStepFinish,
			Time:      types.PartTime{Start: &now, End: &now},
		},
		Cost: float64(usage.Input)*o.cfg.CostPerInputToken +
			float64(usage.Output)*o.cfg.CostPerOutputToken,
		Tokens: usage,
	}, "")
}

// compact records a compaction marker and trims the in-memory conversation to
// its most recent user turn.
func (o *Orchestrator) compact(r *run, convo []*schema.Message) []*schema.Message {
	now := time.Now().UnixMilli()
	r.savePart(&types.CompactionPart{
		PartBase: types.PartBase{
			ID:        store.NewID(),
			SessionID: r.sessionID,
			MessageID: r.assistantID,
			Type:      types.PartCompaction,
			Time:      types.PartTime{Start: &now, End: &now},
		},
		Auto: true,
	}, "")
	o.log.Info().Str("sessionID", r.sessionID).Msg("compacting conversation context")

	for i := len(convo) - 1; i >= 0; i-- {
		if convo[i].Role == schema.User {
			return convo[i:]
		}
	}
	return convo
}

// loadConversation rebuilds the provider conversation from persisted
// messages. The placeholder assistant message for this run and errored
// messages without content are skipped.
func (o *Orchestrator) loadConversation(ctx context.Context, r *run) ([]*schema.Message, error) {
	messages, err := o.store.Messages(ctx, r.sessionID)
	if err != nil {
		return nil, err
	}

	var convo []*schema.Message
	for _, msg := range messages {
		if msg.ID == r.assistantID {
			continue
		}

		parts, err := o.store.Parts(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		if msg.Error != nil && len(parts) == 0 {
			continue
		}

		convo = append(convo, convertMessage(msg, parts)...)
	}
	return convo, nil
}

// convertMessage turns one stored message (and its parts) into provider
// messages. Assistant tool parts expand into a tool-call entry plus one tool
// result message each.
func convertMessage(msg *types.Message, parts []types.Part) []*schema.Message {
	role := schema.User
	if msg.Role == "assistant" {
		role = schema.Assistant
	}

	main := &schema.Message{Role: role}
	var toolResults []*schema.Message

	for _, part := range parts {
		switch p := part.(type) {
		case *types.TextPart:
			main.Content += p.Text
		case *types.ReasoningPart:
			// Reasoning is not replayed to the provider.
		case *types.ToolPart:
			main.ToolCalls = append(main.ToolCalls, schema.ToolCall{
				ID: p.CallID,
				Function: schema.FunctionCall{
					Name:      p.Tool,
					Arguments: string(p.Input),
				},
			})

			result := &schema.Message{Role: schema.Tool, ToolCallID: p.CallID}
			switch {
			case p.Error != nil:
				result.Content = "Error: " + *p.Error
			case p.Output != nil:
				result.Content = *p.Output
			}
			toolResults = append(toolResults, result)
		}
	}

	out := []*schema.Message{main}
	return append(out, toolResults...)
}

// resolveTools exposes the registry to the provider.
func (o *Orchestrator) resolveTools() []*schema.ToolInfo {
	var infos []*schema.ToolInfo
	for _, t := range o.tools.List() {
		params := parseJSONSchemaToParams(t.Parameters())
		infos = append(infos, &schema.ToolInfo{
			Name:        t.Name(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

// parseJSONSchemaToParams converts JSON Schema to eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, req := range jsonSchema.Required {
		requiredSet[req] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}
	return params
}
