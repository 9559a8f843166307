// Package tool defines the tool interface the run orchestrator executes and
// a registry of available tools.
package tool

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/codeloom-ai/codeloom/internal/permission"
)

// Tool is one agent-invocable tool.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string

	// Description is shown to the model.
	Description() string

	// Parameters is the JSON Schema for the tool input.
	Parameters() json.RawMessage

	// Execute runs the tool. Errors are recorded on the tool part and
	// surfaced to the provider as a tool failure; they never abort the run.
	Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error)
}

// Gated is implemented by tools whose execution must be approved through the
// permission arbiter.
type Gated interface {
	// Permission returns the permission demand for the given input, or nil
	// when this particular invocation needs no approval.
	Permission(input json.RawMessage) *Demand
}

// Demand describes what a gated tool invocation asks permission for.
type Demand struct {
	Kind     permission.Kind
	Patterns []string
	Title    string
	Metadata map[string]any
}

// Context carries per-invocation identifiers into a tool.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	WorkDir   string
}

// Result is a successful tool execution.
type Result struct {
	Title    string
	Output   string
	Metadata map[string]any

	// Patch, when set, records file modifications made by the tool and is
	// persisted as a patch part alongside the tool part.
	Patch *PatchResult
}

// PatchResult describes file modifications made by a tool.
type PatchResult struct {
	Hash  string
	Files []string
}

// Registry holds the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}
