// Package store provides durable persistence for sessions, messages, and
// parts. It carries no business logic: writes for the same session are
// serialized by the run orchestrator's single-active-run invariant, not here.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"github.com/codeloom-ai/codeloom/internal/storage"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Store persists sessions, messages, and parts as JSON documents.
//
// Layout: session/<sessionID>, message/<sessionID>/<messageID>,
// part/<messageID>/<partID>. Message and part ids are ULIDs, so lexical key
// order is creation order.
type Store struct {
	files *storage.Storage
}

// New creates a Store over the given storage backend.
func New(files *storage.Storage) *Store {
	return &Store{files: files}
}

// CreateOptions are the caller-supplied fields for a new session.
type CreateOptions struct {
	Title       string
	Directory   string
	ParentID    *string
	MaxThinking *int
}

// CreateSession creates and persists a new session.
func (s *Store) CreateSession(ctx context.Context, opts CreateOptions) (*types.Session, error) {
	now := time.Now().UnixMilli()

	title := opts.Title
	if title == "" {
		title = "New Session"
	}

	session := &types.Session{
		ID:          NewID(),
		Slug:        Slugify(title),
		Title:       title,
		Directory:   opts.Directory,
		ParentID:    opts.ParentID,
		Version:     "1",
		MaxThinking: opts.MaxThinking,
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}

	if err := s.files.Put(ctx, []string{"session", session.ID}, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id. Returns types.ErrSessionNotFound when the
// session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var session types.Session
	if err := s.files.Get(ctx, []string{"session", sessionID}, &session); err != nil {
		if err == storage.ErrNotFound {
			return nil, types.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.files.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var session types.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Time.Updated != sessions[j].Time.Updated {
			return sessions[i].Time.Updated > sessions[j].Time.Updated
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// UpdateSession applies fn to the stored session and persists the result.
// Session.Time.Updated never moves backwards and Version increments on every
// persisted update.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, fn func(*types.Session)) (*types.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	fn(session)

	if n, err := strconv.Atoi(session.Version); err == nil {
		session.Version = strconv.Itoa(n + 1)
	}
	if now := time.Now().UnixMilli(); now > session.Time.Updated {
		session.Time.Updated = now
	}

	if err := s.files.Put(ctx, []string{"session", session.ID}, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Touch bumps the session's updated timestamp.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	_, err := s.UpdateSession(ctx, sessionID, func(*types.Session) {})
	return err
}

// PutMessage upserts a message keyed by its id and touches the owning
// session. Repeated calls with the same id overwrite, never duplicate.
func (s *Store) PutMessage(ctx context.Context, msg *types.Message) error {
	if err := s.files.Put(ctx, []string{"message", msg.SessionID, msg.ID}, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return s.Touch(ctx, msg.SessionID)
}

// PutPart upserts a part keyed by its id and touches the owning session.
func (s *Store) PutPart(ctx context.Context, part types.Part) error {
	if err := s.files.Put(ctx, []string{"part", part.PartMessageID(), part.PartID()}, part); err != nil {
		return fmt.Errorf("save part: %w", err)
	}
	return s.Touch(ctx, part.PartSessionID())
}

// Messages returns all messages for a session in creation order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := s.files.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// Parts returns all parts for a message in creation order.
func (s *Store) Parts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := s.files.Scan(ctx, []string{"part", messageID}, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	return parts, err
}

// NewID generates a new ULID.
func NewID() string {
	return ulid.Make().String()
}

// Slugify lowercases a title and collapses runs of non-alphanumeric
// characters into single hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
