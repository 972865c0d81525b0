package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/omnara-ai/omnara/internal/auth"
	"github.com/omnara-ai/omnara/internal/config"
)

// Server hosts the relay endpoints: the upstream and viewer WebSockets plus
// the REST session list.
type Server struct {
	cfg      config.Relay
	verifier *auth.Verifier
	manager  *Manager
	mux      *http.ServeMux
}

func NewServer(cfg config.Relay, verifier *auth.Verifier, manager *Manager) *Server {
	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		manager:  manager,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /agent", s.handleAgentWS)
	s.mux.HandleFunc("GET /terminal", s.handleViewerWS)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// accept upgrades the request, echoing the negotiated subprotocol when the
// client authenticated through one.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, subprotocol string) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	}
	if subprotocol != "" {
		opts.Subprotocols = []string{subprotocol}
	}
	return websocket.Accept(w, r, opts)
}

// rejectWS sends a JSON error then closes with a policy-violation code.
func rejectWS(ctx context.Context, conn *websocket.Conn, msg string) {
	writeWSJSON(ctx, conn, ErrorMsg{Error: msg})
	conn.Close(websocket.StatusPolicyViolation, msg)
}

func writeWSJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
