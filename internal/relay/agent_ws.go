package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/omnara-ai/omnara/internal/auth"
	"github.com/omnara-ai/omnara/internal/frame"
	"github.com/omnara-ai/omnara/internal/logger"
)

// wsUpstream adapts the agent's WebSocket to the Session's Upstream handle.
// Writes are serialized so input and resize frames from different viewers
// cannot interleave mid-frame.
type wsUpstream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (u *wsUpstream) WriteFrame(t frame.Type, payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return u.conn.Write(ctx, websocket.MessageBinary, frame.Pack(t, payload))
}

func (u *wsUpstream) Close() {
	u.conn.Close(websocket.StatusGoingAway, "upstream replaced")
}

// handleAgentWS is the upstream endpoint: one agent-side connection per
// session, authenticated by API key, carrying framed OUTPUT and RESIZE data.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	creds, subprotocol, authErr := s.verifier.FromRequest(r.Context(), r)

	conn, err := s.accept(w, r, subprotocol)
	if err != nil {
		logger.Warn("agent websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	if authErr != nil {
		rejectWS(ctx, conn, auth.Message(authErr))
		return
	}
	// Upstream requires API-key auth; bearer tokens cannot bind a key hash.
	if creds.APIKeyHash == "" {
		rejectWS(ctx, conn, "Invalid credentials")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		rejectWS(ctx, conn, "session_id is required")
		return
	}

	sess := s.manager.Create(creds.OwnerID, sessionID, creds.APIKeyHash)
	up := &wsUpstream{conn: conn}
	sess.AttachUpstream(up)
	defer sess.EndFrom(up)

	if err := writeWSJSON(ctx, conn, ReadyMsg{Type: TypeReady}); err != nil {
		return
	}
	logger.Info("upstream attached", "owner", creds.OwnerID, "session", sessionID)

	conn.SetReadLimit(frame.MaxPayload + 64)

	var sc frame.Scanner
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("upstream disconnected", "session", sessionID, "error", err)
			return
		}
		if kind != websocket.MessageBinary {
			continue
		}
		sc.Feed(data)
		for {
			f, ok, err := sc.Next()
			if err != nil {
				logger.Warn("upstream framing error", "session", sessionID, "error", err)
				rejectWS(ctx, conn, "malformed frame")
				return
			}
			if !ok {
				break
			}
			switch f.Type {
			case frame.Output:
				sess.AppendOutput(f.Payload)
			case frame.Resize:
				rows, cols, err := frame.ParseResize(f.Payload)
				if err != nil {
					logger.Debug("bad resize payload", "session", sessionID, "error", err)
					continue
				}
				if rows > 0 && cols > 0 {
					sess.UpdateSize(cols, rows)
				}
			case frame.Input:
				// Upstream must not send input.
			default:
				logger.Debug("unknown frame type from upstream", "session", sessionID, "type", byte(f.Type))
			}
		}
	}
}
