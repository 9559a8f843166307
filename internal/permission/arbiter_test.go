package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/event"
)

type askResult struct {
	reply Reply
	err   error
}

// ask runs Ask in a goroutine and returns the result channel plus the request
// id once the request is registered.
func ask(t *testing.T, a *Arbiter, ctx context.Context, sessionID string, kind Kind, patterns []string) (<-chan askResult, string) {
	t.Helper()

	existing := make(map[string]bool)
	for _, p := range a.Pending(sessionID) {
		existing[p.ID] = true
	}

	results := make(chan askResult, 1)
	go func() {
		reply, err := a.Ask(ctx, sessionID, kind, patterns, "test", nil)
		results <- askResult{reply: reply, err: err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range a.Pending(sessionID) {
			if !existing[p.ID] {
				return results, p.ID
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("permission request never registered")
	return nil, ""
}

func waitResult(t *testing.T, results <-chan askResult) askResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Ask to resolve")
		return askResult{}
	}
}

func TestArbiter_ResolveOnce(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	results, id := ask(t, a, context.Background(), "s1", KindBash, []string{"ls *"})
	require.NoError(t, a.Resolve(id, ReplyOnce))

	r := waitResult(t, results)
	assert.NoError(t, r.err)
	assert.Equal(t, ReplyOnce, r.reply)

	// Once does not populate the cache: the same demand asks again.
	results, id = ask(t, a, context.Background(), "s1", KindBash, []string{"ls *"})
	require.NoError(t, a.Resolve(id, ReplyOnce))
	waitResult(t, results)
}

func TestArbiter_AlwaysCaches(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	results, id := ask(t, a, context.Background(), "s1", KindEdit, []string{"main.go"})
	require.NoError(t, a.Resolve(id, ReplyAlways))
	r := waitResult(t, results)
	require.NoError(t, r.err)
	assert.Equal(t, ReplyAlways, r.reply)

	// The same demand now resolves without registering a request.
	reply, err := a.Ask(context.Background(), "s1", KindEdit, []string{"main.go"}, "test", nil)
	assert.NoError(t, err)
	assert.Equal(t, ReplyOnce, reply)
	assert.Empty(t, a.Pending("s1"))

	// Pattern order does not matter for the cache key.
	_, err = a.Ask(context.Background(), "s1", KindEdit, []string{"main.go"}, "test", nil)
	assert.NoError(t, err)

	// A different session still asks.
	ctx, cancel := context.WithCancel(context.Background())
	results2, _ := ask(t, a, ctx, "s2", KindEdit, []string{"main.go"})
	cancel()
	r2 := waitResult(t, results2)
	assert.Error(t, r2.err)
}

func TestArbiter_CacheKeyIgnoresPatternOrder(t *testing.T) {
	assert.Equal(t,
		CacheKey(KindBash, []string{"a", "b"}),
		CacheKey(KindBash, []string{"b", "a"}))
	assert.NotEqual(t,
		CacheKey(KindBash, []string{"a"}),
		CacheKey(KindEdit, []string{"a"}))
}

func TestArbiter_Reject(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	results, id := ask(t, a, context.Background(), "s1", KindBash, []string{"rm -rf *"})
	require.NoError(t, a.Resolve(id, ReplyReject))

	r := waitResult(t, results)
	assert.Equal(t, ReplyReject, r.reply)
	assert.True(t, IsRejected(r.err))
}

func TestArbiter_ContextCancelRejects(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	var mu sync.Mutex
	var replied []event.Event
	bus.Subscribe(event.PermissionReplied, func(e event.Event) {
		mu.Lock()
		replied = append(replied, e)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	results, _ := ask(t, a, ctx, "s1", KindWebFetch, []string{"https://example.com"})
	cancel()

	r := waitResult(t, results)
	assert.True(t, IsRejected(r.err))

	// permission.replied fires even on the cancellation path.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(replied) > 0
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	data, ok := replied[0].Data.(event.PermissionRepliedData)
	require.True(t, ok)
	assert.Equal(t, string(ReplyReject), data.Reply)
}

func TestArbiter_ResolveUnknown(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	assert.Error(t, a.Resolve("nope", ReplyOnce))
}

func TestArbiter_PendingOldestFirst(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	ctx := context.Background()
	results1, id1 := ask(t, a, ctx, "s1", KindBash, []string{"one"})
	time.Sleep(2 * time.Millisecond)
	results2, id2 := ask(t, a, ctx, "s1", KindBash, []string{"two"})

	pending := a.Pending("s1")
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, id2, pending[1].ID)

	require.NoError(t, a.Resolve(id1, ReplyOnce))
	require.NoError(t, a.Resolve(id2, ReplyOnce))
	waitResult(t, results1)
	waitResult(t, results2)
}

func TestArbiter_DropSessionClearsCache(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	a := NewArbiter(bus)

	results, id := ask(t, a, context.Background(), "s1", KindBash, []string{"go test"})
	require.NoError(t, a.Resolve(id, ReplyAlways))
	waitResult(t, results)

	a.DropSession("s1")

	// The demand asks again after the cache is dropped.
	ctx, cancel := context.WithCancel(context.Background())
	results2, _ := ask(t, a, ctx, "s1", KindBash, []string{"go test"})
	cancel()
	r := waitResult(t, results2)
	assert.Error(t, r.err)
}
