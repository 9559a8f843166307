package run

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/codeloom-ai/codeloom/internal/mergetext"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// stepResult is what one provider stream produced.
type stepResult struct {
	text      string
	toolCalls []*toolCall
	finish    string
	usage     types.TokenUsage
}

// toolCall is one tool invocation surfaced by the stream, tied to the part
// that records it.
type toolCall struct {
	callID string
	name   string
	input  string
	part   *types.ToolPart
}

// assistantMessage rebuilds the provider-side assistant turn for the next
// conversation step.
func (sr *stepResult) assistantMessage() *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: sr.text}
	for _, tc := range sr.toolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID: tc.callID,
			Function: schema.FunctionCall{
				Name:      tc.name,
				Arguments: tc.input,
			},
		})
	}
	return msg
}

// processStream consumes one provider stream, persisting parts and emitting
// stream envelopes as content arrives. Provider chunks may carry incremental
// deltas or cumulative snapshots; mergetext reconstructs the full text either
// way, the same algorithm the client-side reconciler applies.
func (o *Orchestrator) processStream(ctx context.Context, r *run, stream *provider.Stream) (*stepResult, error) {
	result := &stepResult{}

	var textPart *types.TextPart
	var reasoningPart *types.ReasoningPart
	var reasoning string
	toolParts := make(map[string]*toolCall)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if chunk.Content != "" {
			merged := mergetext.Merge(result.text, chunk.Content)
			if merged != result.text {
				delta := mergetext.Delta(result.text, merged)
				result.text = merged

				if textPart == nil {
					now := time.Now().UnixMilli()
					textPart = &types.TextPart{
						PartBase: types.PartBase{
							ID:        store.NewID(),
							SessionID: r.sessionID,
							MessageID: r.assistantID,
							Type:      types.PartText,
							Time:      types.PartTime{Start: &now},
						},
					}
				}
				textPart.Text = merged
				r.savePart(textPart, delta)
				o.emit(r, types.TextDeltaPayload{Type: types.StreamTextDelta, Text: delta})
			}
		}

		if chunk.ReasoningContent != "" {
			merged := mergetext.Merge(reasoning, chunk.ReasoningContent)
			if merged != reasoning {
				delta := mergetext.Delta(reasoning, merged)
				reasoning = merged

				if reasoningPart == nil {
					now := time.Now().UnixMilli()
					reasoningPart = &types.ReasoningPart{
						PartBase: types.PartBase{
							ID:        store.NewID(),
							SessionID: r.sessionID,
							MessageID: r.assistantID,
							Type:      types.PartReasoning,
							Time:      types.PartTime{Start: &now},
						},
					}
				}
				reasoningPart.Text = merged
				r.savePart(reasoningPart, delta)
				o.emit(r, types.ThinkingDeltaPayload{Type: types.StreamThinkingDelta, Text: delta})
			}
		}

		for _, tc := range chunk.ToolCalls {
			call, ok := toolParts[tc.ID]
			if !ok {
				now := time.Now().UnixMilli()
				call = &toolCall{
					callID: tc.ID,
					name:   tc.Function.Name,
					part: &types.ToolPart{
						PartBase: types.PartBase{
							ID:        store.NewID(),
							SessionID: r.sessionID,
							MessageID: r.assistantID,
							Type:      types.PartTool,
							Time:      types.PartTime{Start: &now},
						},
						CallID: tc.ID,
						Tool:   tc.Function.Name,
						Status: types.ToolPending,
					},
				}
				toolParts[tc.ID] = call
				result.toolCalls = append(result.toolCalls, call)
				r.savePart(call.part, "")
				o.emit(r, types.ToolCallDeltaPayload{
					Type:   types.StreamToolCallDelta,
					CallID: tc.ID,
					Tool:   tc.Function.Name,
				})
			}

			if tc.Function.Arguments != "" {
				merged := mergetext.Merge(call.input, tc.Function.Arguments)
				if merged != call.input {
					delta := mergetext.Delta(call.input, merged)
					call.input = merged

					if json.Valid([]byte(merged)) {
						call.part.Input = json.RawMessage(merged)
					}
					r.savePart(call.part, "")
					o.emit(r, types.ToolCallDeltaPayload{
						Type:       types.StreamToolCallDelta,
						CallID:     tc.ID,
						Tool:       call.name,
						InputDelta: delta,
					})
				}
			}
		}

		if meta := chunk.ResponseMeta; meta != nil {
			if meta.Usage != nil {
				result.usage.Input = meta.Usage.PromptTokens
				result.usage.Output = meta.Usage.CompletionTokens
			}
			if meta.FinishReason != "" {
				result.finish = meta.FinishReason
			}
		}
	}

	now := time.Now().UnixMilli()
	if textPart != nil {
		textPart.Time.End = &now
		r.savePart(textPart, "")
	}
	if reasoningPart != nil {
		reasoningPart.Time.End = &now
		r.savePart(reasoningPart, "")
	}

	return result, nil
}
