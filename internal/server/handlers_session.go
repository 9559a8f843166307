package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/run"
	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Title       string  `json:"title,omitempty"`
	Directory   string  `json:"directory,omitempty"`
	ParentID    *string `json:"parentID,omitempty"`
	MaxThinking *int    `json:"maxThinking,omitempty"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	session, err := s.store.CreateSession(r.Context(), store.CreateOptions{
		Title:       req.Title,
		Directory:   req.Directory,
		ParentID:    req.ParentID,
		MaxThinking: req.MaxThinking,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: session},
	})

	writeJSON(w, http.StatusOK, session)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// UpdateSessionRequest represents the request body for updating a session.
type UpdateSessionRequest struct {
	Title       *string `json:"title,omitempty"`
	MaxThinking *int    `json:"maxThinking,omitempty"`
}

// updateSession handles PATCH /session/{sessionID}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	session, err := s.store.UpdateSession(r.Context(), sessionID, func(sess *types.Session) {
		if req.Title != nil {
			sess.Title = *req.Title
			sess.Slug = store.Slugify(*req.Title)
		}
		if req.MaxThinking != nil {
			sess.MaxThinking = req.MaxThinking
		}
	})
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: session},
	})

	writeJSON(w, http.StatusOK, session)
}

// MessageWithParts bundles a message and its parts for history loads.
type MessageWithParts struct {
	Info  *types.Message `json:"info"`
	Parts []types.Part   `json:"parts"`
}

// UnmarshalJSON decodes the part list through the tagged-variant dispatcher.
func (m *MessageWithParts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Info  *types.Message    `json:"info"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Info = raw.Info
	m.Parts = make([]types.Part, 0, len(raw.Parts))
	for _, rawPart := range raw.Parts {
		part, err := types.UnmarshalPart(rawPart)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	messages, err := s.store.Messages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	result := make([]MessageWithParts, 0, len(messages))
	for _, msg := range messages {
		parts, err := s.store.Parts(r.Context(), msg.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		if parts == nil {
			parts = []types.Part{}
		}
		result = append(result, MessageWithParts{Info: msg, Parts: parts})
	}

	writeJSON(w, http.StatusOK, result)
}

// SendMessageRequest represents the request body for submitting a prompt.
type SendMessageRequest struct {
	Text        string `json:"text"`
	ProviderID  string `json:"providerID,omitempty"`
	ModelID     string `json:"modelID,omitempty"`
	MaxThinking *int   `json:"maxThinking,omitempty"`
}

// sendMessage handles POST /session/{sessionID}/message. It returns as soon
// as the run is accepted; progress arrives over /event.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	messageID, err := s.runner.Submit(r.Context(), sessionID, req.Text, run.SubmitOptions{
		ProviderID:  req.ProviderID,
		ModelID:     req.ModelID,
		MaxThinking: req.MaxThinking,
	})
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		case errors.Is(err, types.ErrSessionBusy):
			writeError(w, http.StatusConflict, ErrCodeSessionBusy, "Session already has an active run")
		case errors.Is(err, types.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Prompt must not be empty")
		default:
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"messageID": messageID})
}

// abortSession handles POST /session/{sessionID}/abort. Aborting an idle
// session is a no-op and still succeeds.
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	if err := s.runner.Abort(sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}
