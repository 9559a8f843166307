package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codeloom-ai/codeloom/internal/permission"
)

// listPermissions handles GET /session/{sessionID}/permissions
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	pending := s.arbiter.Pending(sessionID)
	if pending == nil {
		pending = []permission.Request{}
	}

	writeJSON(w, http.StatusOK, pending)
}

// RespondPermissionRequest represents the request body for answering a
// permission request.
type RespondPermissionRequest struct {
	Reply string `json:"reply"`
}

// respondPermission handles POST /session/{sessionID}/permissions/{requestID}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req RespondPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	reply, ok := permission.ParseReply(req.Reply)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "reply must be one of: once, always, reject")
		return
	}

	if err := s.arbiter.Resolve(requestID, reply); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Permission request not found")
		return
	}

	writeSuccess(w)
}
