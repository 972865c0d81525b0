package relay

import (
	"net/http"

	"github.com/omnara-ai/omnara/internal/auth"
)

// handleListSessions is the REST mirror of the list the viewer endpoint
// sends on open, under the same credential rules.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	creds, _, err := s.verifier.FromRequest(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}

	sessions := []SessionInfo{}
	for _, sess := range s.manager.SessionsFor(creds.OwnerID, creds.APIKeyHash) {
		sessions = append(sessions, sess.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
