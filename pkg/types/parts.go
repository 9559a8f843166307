package types

import (
	"encoding/json"
	"fmt"
)

// PartKind discriminates the part variants. The set is closed: UnmarshalPart
// rejects unknown kinds so that adding a variant is a compile-time decision,
// not a silently ignored default branch.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartTool       PartKind = "tool"
	PartPatch      PartKind = "patch"
	PartStepFinish PartKind = "step-finish"
	PartAgent      PartKind = "agent"
	PartCompaction PartKind = "compaction"
)

// Part is a typed fragment of a message. Parts are mutable in place while
// their owning run streams (content and end time grow monotonically) and
// frozen once the owning message is marked completed.
type Part interface {
	PartKind() PartKind
	PartID() string
	PartMessageID() string
	PartSessionID() string
}

// PartBase carries the fields common to all part variants.
type PartBase struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartKind `json:"type"`
	Time      PartTime `json:"time,omitempty"`
}

func (b *PartBase) PartID() string        { return b.ID }
func (b *PartBase) PartMessageID() string { return b.MessageID }
func (b *PartBase) PartSessionID() string { return b.SessionID }

// PartTime contains timing information for a part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart is streamed assistant (or stored user) text.
type TextPart struct {
	PartBase
	Text string `json:"text"`
}

func (p *TextPart) PartKind() PartKind { return PartText }

// ReasoningPart is streamed extended-thinking content.
type ReasoningPart struct {
	PartBase
	Text string `json:"text"`
}

func (p *ReasoningPart) PartKind() PartKind { return PartReasoning }

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolPart records one tool invocation. The pre-call and post-call writes use
// the same part id keyed by the provider call id, so the two persists coalesce
// into one evolving record.
type ToolPart struct {
	PartBase
	CallID string          `json:"callID"`
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input,omitempty"`
	Status ToolStatus      `json:"status"`
	Title  string          `json:"title,omitempty"`
	Output *string         `json:"output,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

func (p *ToolPart) PartKind() PartKind { return PartTool }

// PatchPart records a file patch produced by a tool.
type PatchPart struct {
	PartBase
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
}

func (p *PatchPart) PartKind() PartKind { return PartPatch }

// StepFinishPart records per-step cost and token usage.
type StepFinishPart struct {
	PartBase
	Cost   float64    `json:"cost"`
	Tokens TokenUsage `json:"tokens"`
}

func (p *StepFinishPart) PartKind() PartKind { return PartStepFinish }

// AgentPart records a sub-agent lifecycle within a run.
type AgentPart struct {
	PartBase
	Name string `json:"name"`
}

func (p *AgentPart) PartKind() PartKind { return PartAgent }

// CompactionPart marks a context compaction point in the conversation.
type CompactionPart struct {
	PartBase
	Auto bool `json:"auto"`
}

func (p *CompactionPart) PartKind() PartKind { return PartCompaction }

// UnmarshalPart decodes a JSON part into its concrete variant.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		Type PartKind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	var p Part
	switch probe.Type {
	case PartText:
		p = &TextPart{}
	case PartReasoning:
		p = &ReasoningPart{}
	case PartTool:
		p = &ToolPart{}
	case PartPatch:
		p = &PatchPart{}
	case PartStepFinish:
		p = &StepFinishPart{}
	case PartAgent:
		p = &AgentPart{}
	case PartCompaction:
		p = &CompactionPart{}
	default:
		return nil, fmt.Errorf("unknown part type: %q", probe.Type)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
