package relay

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/omnara-ai/omnara/internal/auth"
	"github.com/omnara-ai/omnara/internal/logger"
)

// Viewer input is metered per connection so a runaway client cannot flood
// the PTY. Limits are in bytes per second.
const (
	viewerInputRate  = 64 * 1024
	viewerInputBurst = 256 * 1024
)

// handleViewerWS serves remote UIs: JSON control messages in, JSON control
// plus binary OUTPUT frames out.
func (s *Server) handleViewerWS(w http.ResponseWriter, r *http.Request) {
	creds, subprotocol, authErr := s.verifier.FromRequest(r.Context(), r)

	conn, err := s.accept(w, r, subprotocol)
	if err != nil {
		logger.Warn("viewer websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	if authErr != nil {
		rejectWS(ctx, conn, auth.Message(authErr))
		return
	}

	list := SessionsMsg{Type: TypeSessions, Sessions: []SessionInfo{}}
	for _, sess := range s.manager.SessionsFor(creds.OwnerID, creds.APIKeyHash) {
		list.Sessions = append(list.Sessions, sess.Info())
	}
	if err := writeWSJSON(ctx, conn, list); err != nil {
		return
	}

	limiter := rate.NewLimiter(rate.Limit(viewerInputRate), viewerInputBurst)

	var sess *Session
	var viewer *Viewer
	defer func() {
		if sess != nil {
			sess.UnregisterViewer(viewer)
			viewer.close()
		}
	}()

	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case TypeJoinSession:
			var msg JoinSessionMsg
			if err := json.Unmarshal(data, &msg); err != nil || msg.SessionID == "" {
				writeWSJSON(ctx, conn, ErrorMsg{Error: "session_id is required"})
				continue
			}
			target := s.manager.Get(creds.OwnerID, msg.SessionID, creds.APIKeyHash)
			if target == nil {
				writeWSJSON(ctx, conn, ErrorMsg{Error: "Session not found"})
				continue
			}
			if sess != nil {
				sess.UnregisterViewer(viewer)
				viewer.close()
			}
			viewer = newViewer(conn)
			go viewer.writeLoop(ctx)
			target.Join(viewer)
			sess = target
			logger.Info("viewer joined", "owner", creds.OwnerID, "session", msg.SessionID)

		case TypeInput:
			if sess == nil {
				continue
			}
			var msg InputMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Data != "" {
				if err := limiter.WaitN(ctx, len(msg.Data)); err != nil {
					return
				}
				sess.ForwardInput([]byte(msg.Data))
			}
			if msg.Cols > 0 || msg.Rows > 0 {
				sess.RequestResize(msg.Cols, msg.Rows)
			}

		case TypeResizeRequest:
			if sess == nil {
				continue
			}
			var msg ResizeRequestMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Cols == 0 && msg.Rows == 0 {
				continue
			}
			sess.RequestResize(msg.Cols, msg.Rows)

		default:
			logger.Debug("unknown viewer message", "type", env.Type)
		}
	}
}
