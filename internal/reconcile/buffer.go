package reconcile

import (
	"sort"
	"time"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// streamBuffer holds per-stream ordering state. lastSeq is the highest
// contiguously applied sequence number; pending holds out-of-order arrivals;
// gaps records when each missing sequence number was first observed. Once
// completed is set the buffer accepts no further mutation.
type streamBuffer struct {
	lastSeq   int64
	pending   []types.StreamEvent
	gaps      map[int64]time.Time
	completed bool
}

func newStreamBuffer() *streamBuffer {
	return &streamBuffer{
		lastSeq: -1,
		gaps:    make(map[int64]time.Time),
	}
}

// insert adds an event unless it is stale (seq already applied) or a
// duplicate of a pending one.
func (b *streamBuffer) insert(ev types.StreamEvent) bool {
	if ev.Seq <= b.lastSeq {
		return false
	}
	for _, p := range b.pending {
		if p.Seq == ev.Seq {
			return false
		}
	}
	b.pending = append(b.pending, ev)
	return true
}

// flush applies pending events in seq order, advancing lastSeq past each
// contiguous event and calling apply for it. It stops at the first gap and
// records when the gap was observed. Applying a terminal event marks the
// buffer completed and discards the rest.
func (b *streamBuffer) flush(now time.Time, apply func(types.StreamEvent)) {
	sort.Slice(b.pending, func(i, j int) bool {
		return b.pending[i].Seq < b.pending[j].Seq
	})

	i := 0
	for ; i < len(b.pending); i++ {
		ev := b.pending[i]
		if ev.Seq <= b.lastSeq {
			continue
		}
		if ev.Seq > b.lastSeq+1 {
			if _, ok := b.gaps[b.lastSeq+1]; !ok {
				b.gaps[b.lastSeq+1] = now
			}
			break
		}

		apply(ev)
		b.lastSeq = ev.Seq
		delete(b.gaps, ev.Seq)

		if ev.Terminal() {
			b.completed = true
			b.pending = nil
			return
		}
	}
	b.pending = b.pending[i:]
}

// expireGap reports whether the buffer's current gap has outlived the
// timeout. When it has, lastSeq is forced forward to just before the earliest
// pending event; the skipped content is permanently lost for this stream.
func (b *streamBuffer) expireGap(now time.Time, timeout time.Duration) (skippedFrom, skippedTo int64, ok bool) {
	if b.completed || len(b.pending) == 0 {
		return 0, 0, false
	}
	since, found := b.gaps[b.lastSeq+1]
	if !found || now.Sub(since) < timeout {
		return 0, 0, false
	}

	minSeq := b.pending[0].Seq
	for _, p := range b.pending {
		if p.Seq < minSeq {
			minSeq = p.Seq
		}
	}

	skippedFrom = b.lastSeq + 1
	skippedTo = minSeq - 1
	delete(b.gaps, b.lastSeq+1)
	b.lastSeq = minSeq - 1
	return skippedFrom, skippedTo, true
}
