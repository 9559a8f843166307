package run

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/internal/tool"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// subAgent is implemented by tools that delegate to a named sub-agent. Their
// lifecycle is recorded as an agent part on the assistant message.
type subAgent interface {
	AgentName() string
}

// executeToolCalls runs each tool call surfaced by the last stream step and
// returns the tool result messages for the next step. Tool failures, including
// permission rejections, are recorded on the part and surfaced to the provider
// so the agent can react; only run cancellation returns an error.
func (o *Orchestrator) executeToolCalls(ctx context.Context, r *run, calls []*toolCall) ([]*schema.Message, error) {
	var results []*schema.Message
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, o.executeToolCall(ctx, r, call))
	}
	return results, nil
}

func (o *Orchestrator) executeToolCall(ctx context.Context, r *run, call *toolCall) *schema.Message {
	t, ok := o.tools.Get(call.name)
	if !ok {
		return o.failToolCall(r, call, "tool not found: "+call.name)
	}

	input := call.part.Input
	if len(input) == 0 {
		input = json.RawMessage(call.input)
	}

	if gated, ok := t.(tool.Gated); ok {
		if demand := gated.Permission(input); demand != nil {
			_, err := o.arbiter.Ask(ctx, r.sessionID, demand.Kind, demand.Patterns, demand.Title, demand.Metadata)
			if err != nil {
				return o.failToolCall(r, call, "permission rejected: "+call.name)
			}
		}
	}

	call.part.Status = types.ToolRunning
	r.savePart(call.part, "")

	var agentPart *types.AgentPart
	if sa, ok := t.(subAgent); ok {
		now := time.Now().UnixMilli()
		agentPart = &types.AgentPart{
			PartBase: types.PartBase{
				ID:        store.NewID(),
				SessionID: r.sessionID,
				MessageID: r.assistantID,
				Type:      types.PartAgent,
				Time:      types.PartTime{Start: &now},
			},
			Name: sa.AgentName(),
		}
		r.savePart(agentPart, "")
	}

	result, err := t.Execute(ctx, input, &tool.Context{
		SessionID: r.sessionID,
		MessageID: r.assistantID,
		CallID:    call.callID,
	})

	if agentPart != nil {
		now := time.Now().UnixMilli()
		agentPart.Time.End = &now
		r.savePart(agentPart, "")
	}

	if err != nil {
		return o.failToolCall(r, call, err.Error())
	}

	now := time.Now().UnixMilli()
	call.part.Status = types.ToolCompleted
	call.part.Title = result.Title
	call.part.Output = &result.Output
	call.part.Time.End = &now
	r.savePart(call.part, "")

	if result.Patch != nil {
		r.savePart(&types.PatchPart{
			PartBase: types.PartBase{
				ID:        store.NewID(),
				SessionID: r.sessionID,
				MessageID: r.assistantID,
				Type:      types.PartPatch,
				Time:      types.PartTime{Start: &now, End: &now},
			},
			Hash:  result.Patch.Hash,
			Files: result.Patch.Files,
		}, "")
	}

	o.emit(r, types.ToolCallCompletedPayload{
		Type:   types.StreamToolCallCompleted,
		CallID: call.callID,
		Input:  call.part.Input,
		Title:  result.Title,
		Output: &result.Output,
	})

	return &schema.Message{
		Role:       schema.Tool,
		ToolCallID: call.callID,
		Content:    result.Output,
	}
}

// failToolCall records a tool failure on its part. The run continues; the
// provider sees the failure as the tool result.
func (o *Orchestrator) failToolCall(r *run, call *toolCall, cause string) *schema.Message {
	now := time.Now().UnixMilli()
	call.part.Status = types.ToolError
	call.part.Error = &cause
	call.part.Time.End = &now
	r.savePart(call.part, "")

	o.emit(r, types.ToolCallCompletedPayload{
		Type:   types.StreamToolCallCompleted,
		CallID: call.callID,
		Input:  call.part.Input,
		Error:  &cause,
	})

	return &schema.Message{
		Role:       schema.Tool,
		ToolCallID: call.callID,
		Content:    "Error: " + cause,
	}
}
