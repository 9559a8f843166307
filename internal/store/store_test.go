package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/storage"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(storage.New(t.TempDir()))
}

func TestStore_CreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{Title: "Fix the build"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "Fix the build", session.Title)
	assert.Equal(t, "fix-the-build", session.Slug)
	assert.Equal(t, session.Time.Created, session.Time.Updated)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestStore_GetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestStore_CreateSessionDefaultTitle(t *testing.T) {
	s := newTestStore(t)

	session, err := s.CreateSession(context.Background(), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "New Session", session.Title)
	assert.Equal(t, "new-session", session.Slug)
}

func TestStore_ListSessionsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, CreateOptions{Title: "first"})
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, CreateOptions{Title: "second"})
	require.NoError(t, err)

	// Touching the older session moves it to the front.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Touch(ctx, first.ID))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestStore_UpdateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{Title: "before"})
	require.NoError(t, err)

	updated, err := s.UpdateSession(ctx, session.ID, func(sess *types.Session) {
		sess.Title = "after"
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.GreaterOrEqual(t, updated.Time.Updated, session.Time.Updated)

	_, err = s.UpdateSession(ctx, "missing", func(*types.Session) {})
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestStore_UpdateSessionBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{Title: "versioned"})
	require.NoError(t, err)
	assert.Equal(t, "1", session.Version)

	updated, err := s.UpdateSession(ctx, session.ID, func(sess *types.Session) {
		sess.Title = "renamed"
	})
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Version)

	// Touch is an update too: every persisted write moves the counter.
	require.NoError(t, s.Touch(ctx, session.ID))
	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", got.Version)
}

func TestStore_MessagesInCreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		msg := &types.Message{
			ID:        NewID(),
			SessionID: session.ID,
			Role:      "user",
			Time:      types.MessageTime{Created: time.Now().UnixMilli()},
		}
		require.NoError(t, s.PutMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	messages, err := s.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, ids[i], msg.ID)
	}
}

func TestStore_PutMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{})
	require.NoError(t, err)

	msg := &types.Message{
		ID:        NewID(),
		SessionID: session.ID,
		Role:      "assistant",
	}
	require.NoError(t, s.PutMessage(ctx, msg))
	msg.Cost = 0.5
	require.NoError(t, s.PutMessage(ctx, msg))

	messages, err := s.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, 0.5, messages[0].Cost)
}

func TestStore_PartsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, CreateOptions{})
	require.NoError(t, err)
	msgID := NewID()

	text := &types.TextPart{
		PartBase: types.PartBase{
			ID:        NewID(),
			SessionID: session.ID,
			MessageID: msgID,
			Type:      types.PartText,
		},
		Text: "hello",
	}
	require.NoError(t, s.PutPart(ctx, text))

	output := "ok"
	tool := &types.ToolPart{
		PartBase: types.PartBase{
			ID:        NewID(),
			SessionID: session.ID,
			MessageID: msgID,
			Type:      types.PartTool,
		},
		CallID: "call_1",
		Tool:   "bash",
		Status: types.ToolCompleted,
		Output: &output,
	}
	require.NoError(t, s.PutPart(ctx, tool))

	parts, err := s.Parts(ctx, msgID)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	gotText, ok := parts[0].(*types.TextPart)
	require.True(t, ok)
	assert.Equal(t, "hello", gotText.Text)

	gotTool, ok := parts[1].(*types.ToolPart)
	require.True(t, ok)
	assert.Equal(t, "call_1", gotTool.CallID)
	assert.Equal(t, types.ToolCompleted, gotTool.Status)
	require.NotNil(t, gotTool.Output)
	assert.Equal(t, "ok", *gotTool.Output)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "fix-the-build", Slugify("Fix the build"))
	assert.Equal(t, "hello-world", Slugify("  Hello,   World! "))
	assert.Equal(t, "a1b2", Slugify("a1b2"))
	assert.Equal(t, "", Slugify("---"))
}
