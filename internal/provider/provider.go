// Package provider abstracts the LLM provider behind a streaming interface
// built on eino schema types.
package provider

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Provider represents one LLM backend.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Stream starts a streaming completion.
	Stream(ctx context.Context, req *Request) (*Stream, error)
}

// Request is a completion request.
type Request struct {
	Model       string             `json:"model"`
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	MaxThinking int                `json:"maxThinking,omitempty"`
	ResumeToken string             `json:"resumeToken,omitempty"`
}

// Stream wraps an eino stream reader of message chunks. Chunk content may be
// incremental or cumulative depending on the backend; consumers reconcile
// either form.
type Stream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewStream creates a Stream over an eino reader.
func NewStream(reader *schema.StreamReader[*schema.Message]) *Stream {
	return &Stream{reader: reader}
}

// Recv receives the next chunk. Returns io.EOF when the stream ends.
func (s *Stream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close releases the stream.
func (s *Stream) Close() {
	s.reader.Close()
}

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any existing one with the same id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}
