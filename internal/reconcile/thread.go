package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Materialization bounds. The thread view is capped and its fields truncated
// so unbounded session history cannot grow the presentation state without
// limit. Recent tool output is kept whole; older output is trimmed harder.
const (
	maxItems             = 500
	maxTextLen           = 20000
	maxToolTitleLen      = 200
	maxToolErrorLen      = 2000
	trimmedToolOutputLen = 1000
	recentToolWindow     = 40
	pendingMatchWindow   = 30 * time.Second
)

// ItemKind discriminates thread items.
type ItemKind string

const (
	ItemUserMessage      ItemKind = "user-message"
	ItemAssistantMessage ItemKind = "assistant-message"
	ItemReasoning        ItemKind = "reasoning"
	ItemTool             ItemKind = "tool"
	ItemPatch            ItemKind = "patch"
	ItemStepFinish       ItemKind = "step-finish"
)

// ThreadItem is one row of the materialized conversation. Items are value
// snapshots; the reconciler reuses the previous pointer when nothing changed,
// so pointer equality across Thread calls means "unchanged".
type ThreadItem struct {
	ID      string
	Kind    ItemKind
	Created int64
	Arrival int
	Pending bool

	Text string

	ToolName   string
	ToolTitle  string
	ToolInput  string
	ToolOutput string
	ToolError  string
	ToolStatus types.ToolStatus

	PatchHash  string
	PatchFiles []string

	Cost   float64
	Tokens types.TokenUsage

	Error string
}

// messageState is the merged server-side view of one message, accumulated
// from stream deltas and full snapshots.
type messageState struct {
	id        string
	arrival   int
	role      string
	created   int64
	completed bool
	errMsg    string

	text      string
	reasoning string

	tools     map[string]*toolState
	toolOrder []string
	patches   []*types.PatchPart
	steps     []*types.StepFinishPart
}

type toolState struct {
	name   string
	title  string
	input  string
	status types.ToolStatus
	output string
	errMsg string
}

func (ms *messageState) tool(callID string) *toolState {
	ts, ok := ms.tools[callID]
	if !ok {
		ts = &toolState{}
		ms.tools[callID] = ts
		ms.toolOrder = append(ms.toolOrder, callID)
	}
	return ts
}

func (ms *messageState) upsertPatch(p *types.PatchPart) {
	for i, existing := range ms.patches {
		if existing.ID == p.ID {
			ms.patches[i] = p
			return
		}
	}
	ms.patches = append(ms.patches, p)
}

func (ms *messageState) upsertStep(p *types.StepFinishPart) {
	for i, existing := range ms.steps {
		if existing.ID == p.ID {
			ms.steps[i] = p
			return
		}
	}
	ms.steps = append(ms.steps, p)
}

// threadRow is one sortable unit of the thread: a confirmed message or a
// provisional pending entry.
type threadRow struct {
	created int64
	arrival int
	ms      *messageState
	pe      *pendingEntry
}

// materialize rebuilds r.items from message state and pending entries. Rows
// sort by (created, arrival) so a provisional entry interleaves with
// confirmed messages at its local creation time rather than trailing them.
// Callers hold r.mu.
func (r *Reconciler) materialize() {
	msgs := make([]*messageState, 0, len(r.msgs))
	for _, ms := range r.msgs {
		msgs = append(msgs, ms)
	}

	rows := make([]threadRow, 0, len(msgs)+len(r.pending))
	for _, ms := range msgs {
		rows = append(rows, threadRow{created: ms.created, arrival: ms.arrival, ms: ms})
	}
	for _, pe := range r.keepPending(msgs) {
		rows = append(rows, threadRow{created: pe.localAt.UnixMilli(), arrival: pe.arrival, pe: pe})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].created != rows[j].created {
			return rows[i].created < rows[j].created
		}
		return rows[i].arrival < rows[j].arrival
	})

	var items []*ThreadItem
	for _, row := range rows {
		if row.ms != nil {
			items = append(items, r.messageItems(row.ms)...)
			continue
		}
		items = append(items, r.pendingItem(row.pe))
	}

	items = suppressEchoes(items)

	if len(items) > maxItems {
		items = items[len(items)-maxItems:]
	}

	r.truncate(items)
	r.items = r.stabilize(items)
}

// messageItems expands one message into its thread rows: reasoning first,
// then text, then tool calls in first-seen order, then patches and step
// boundaries.
func (r *Reconciler) messageItems(ms *messageState) []*ThreadItem {
	var out []*ThreadItem

	if ms.role == "user" {
		if ms.text != "" {
			out = append(out, &ThreadItem{
				ID:      ms.id,
				Kind:    ItemUserMessage,
				Created: ms.created,
				Arrival: r.arrival("msg:" + ms.id),
				Text:    ms.text,
			})
		}
		return out
	}

	if ms.reasoning != "" {
		out = append(out, &ThreadItem{
			ID:      ms.id + ":reasoning",
			Kind:    ItemReasoning,
			Created: ms.created,
			Arrival: r.arrival("reasoning:" + ms.id),
			Text:    ms.reasoning,
		})
	}
	if ms.text != "" || ms.errMsg != "" {
		out = append(out, &ThreadItem{
			ID:      ms.id,
			Kind:    ItemAssistantMessage,
			Created: ms.created,
			Arrival: r.arrival("msg:" + ms.id),
			Text:    ms.text,
			Error:   ms.errMsg,
		})
	}
	for _, callID := range ms.toolOrder {
		ts := ms.tools[callID]
		out = append(out, &ThreadItem{
			ID:         ms.id + ":tool:" + callID,
			Kind:       ItemTool,
			Created:    ms.created,
			Arrival:    r.arrival("tool:" + ms.id + ":" + callID),
			ToolName:   ts.name,
			ToolTitle:  ts.title,
			ToolInput:  ts.input,
			ToolOutput: ts.output,
			ToolError:  ts.errMsg,
			ToolStatus: ts.status,
		})
	}
	for _, p := range ms.patches {
		out = append(out, &ThreadItem{
			ID:         p.ID,
			Kind:       ItemPatch,
			Created:    ms.created,
			Arrival:    r.arrival("patch:" + p.ID),
			PatchHash:  p.Hash,
			PatchFiles: p.Files,
		})
	}
	for _, p := range ms.steps {
		out = append(out, &ThreadItem{
			ID:      p.ID,
			Kind:    ItemStepFinish,
			Created: ms.created,
			Arrival: r.arrival("step:" + p.ID),
			Cost:    p.Cost,
			Tokens:  p.Tokens,
		})
	}
	return out
}

// keepPending drops provisional local entries that a confirmed user message
// has superseded. A confirmed user message with identical text drops the
// provisional entry, but only within the match window; after that the match
// is assumed coincidental.
func (r *Reconciler) keepPending(msgs []*messageState) []*pendingEntry {
	var kept []*pendingEntry
	for _, entry := range r.pending {
		matched := false
		for _, ms := range msgs {
			if ms.role != "user" || ms.text != entry.text {
				continue
			}
			confirmedAt := time.UnixMilli(ms.created)
			delta := confirmedAt.Sub(entry.localAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= pendingMatchWindow {
				matched = true
				break
			}
		}
		if !matched {
			kept = append(kept, entry)
		}
	}
	r.pending = kept
	return kept
}

func (r *Reconciler) pendingItem(entry *pendingEntry) *ThreadItem {
	return &ThreadItem{
		ID:      entry.id,
		Kind:    ItemUserMessage,
		Created: entry.localAt.UnixMilli(),
		Arrival: r.arrival("pending:" + entry.id),
		Pending: true,
		Text:    entry.text,
	}
}

// suppressEchoes drops assistant text rows whose normalized content exactly
// repeats some user row. Providers occasionally replay the prompt verbatim at
// the start of a response.
func suppressEchoes(items []*ThreadItem) []*ThreadItem {
	userText := make(map[string]struct{})
	for _, it := range items {
		if it.Kind == ItemUserMessage && it.Text != "" {
			userText[normalize(it.Text)] = struct{}{}
		}
	}
	if len(userText) == 0 {
		return items
	}

	out := items[:0]
	for _, it := range items {
		if it.Kind == ItemAssistantMessage && it.Error == "" {
			if _, echo := userText[normalize(it.Text)]; echo {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

// normalize lowercases and collapses runs of whitespace so formatting
// differences do not defeat echo detection.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// truncate bounds per-field sizes in place. Tool output outside the most
// recent window is trimmed further.
func (r *Reconciler) truncate(items []*ThreadItem) {
	toolsSeen := 0
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		it.Text = clip(it.Text, maxTextLen)
		if it.Kind != ItemTool {
			continue
		}
		toolsSeen++
		it.ToolTitle = clip(it.ToolTitle, maxToolTitleLen)
		it.ToolError = clip(it.ToolError, maxToolErrorLen)
		if toolsSeen > recentToolWindow {
			it.ToolOutput = clip(it.ToolOutput, trimmedToolOutputLen)
		}
	}
}

// clip truncates s to at most max characters. The cut lands on a rune
// boundary, never inside a multibyte sequence.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := 0
	for i := range s {
		if runes == max {
			return s[:i]
		}
		runes++
	}
	return s
}

// stabilize reuses the previous item pointer whenever the rebuilt item is
// field-equal, so consumers can detect unchanged rows by identity.
func (r *Reconciler) stabilize(items []*ThreadItem) []*ThreadItem {
	prev := make(map[string]*ThreadItem, len(r.items))
	for _, it := range r.items {
		prev[it.ID] = it
	}
	for i, it := range items {
		old, ok := prev[it.ID]
		if ok && itemsEqual(old, it) {
			items[i] = old
		}
	}
	return items
}

func itemsEqual(a, b *ThreadItem) bool {
	if a.ID != b.ID || a.Kind != b.Kind || a.Created != b.Created ||
		a.Pending != b.Pending || a.Text != b.Text || a.Error != b.Error {
		return false
	}
	if a.ToolName != b.ToolName || a.ToolTitle != b.ToolTitle ||
		a.ToolInput != b.ToolInput || a.ToolOutput != b.ToolOutput ||
		a.ToolError != b.ToolError || a.ToolStatus != b.ToolStatus {
		return false
	}
	if a.PatchHash != b.PatchHash || len(a.PatchFiles) != len(b.PatchFiles) {
		return false
	}
	for i := range a.PatchFiles {
		if a.PatchFiles[i] != b.PatchFiles[i] {
			return false
		}
	}
	return a.Cost == b.Cost && a.Tokens == b.Tokens
}

// arrival returns a stable arrival index for an item key, assigning the next
// index on first sight. Arrival breaks ties between rows created at the same
// millisecond without reordering them on later rebuilds.
func (r *Reconciler) arrival(key string) int {
	if n, ok := r.arrivalByKey[key]; ok {
		return n
	}
	n := r.nextItemArrival
	r.nextItemArrival++
	r.arrivalByKey[key] = n
	return n
}
