package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Scripted is a provider that replays pre-built chunk sequences. Each call to
// Stream pops the next script. It backs the orchestrator tests and the
// `codeloom serve --mock` development mode.
type Scripted struct {
	id      string
	scripts [][]*schema.Message
	calls   int
}

// NewScripted creates a scripted provider.
func NewScripted(id string, scripts ...[]*schema.Message) *Scripted {
	return &Scripted{id: id, scripts: scripts}
}

// ID returns the provider identifier.
func (m *Scripted) ID() string { return m.id }

// Stream replays the next script as a streaming completion.
func (m *Scripted) Stream(ctx context.Context, req *Request) (*Stream, error) {
	var chunks []*schema.Message
	if m.calls < len(m.scripts) {
		chunks = m.scripts[m.calls]
	}
	m.calls++

	reader, writer := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer writer.Close()
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			default:
			}
			writer.Send(chunk, nil)
		}
	}()

	return NewStream(reader), nil
}

// FinishChunk builds a terminal chunk with a finish reason and usage.
func FinishChunk(reason string, promptTokens, completionTokens int) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: reason,
			Usage: &schema.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		},
	}
}

// TextChunk builds a chunk carrying cumulative assistant text.
func TextChunk(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

// ToolChunk builds a chunk carrying one tool call with cumulative arguments.
func ToolChunk(callID, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{
				ID: callID,
				Function: schema.FunctionCall{
					Name:      name,
					Arguments: args,
				},
			},
		},
	}
}
