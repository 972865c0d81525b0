package relay

// JSON control messages for the viewer channel and the upstream handshake.
// Live terminal data travels as binary frames (see internal/frame); JSON is
// control only.
const (
	// Relay → client
	TypeReady        = "ready"         // upstream accept acknowledgment
	TypeSessions     = "sessions"      // viewer session list, sent on open
	TypeResize       = "resize"        // session size changed
	TypeSessionEnded = "session_ended" // upstream detached for good

	// Viewer → relay
	TypeJoinSession   = "join_session"
	TypeInput         = "input"
	TypeResizeRequest = "resize_request"
)

// Envelope wraps every JSON message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// ReadyMsg acknowledges a successful upstream handshake.
type ReadyMsg struct {
	Type string `json:"type"`
}

// SessionInfo describes one session in a listing.
type SessionInfo struct {
	ID        string  `json:"id"`
	Active    bool    `json:"active"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at"`
	Cols      uint16  `json:"cols"`
	Rows      uint16  `json:"rows"`
}

// SessionsMsg is the session list a viewer receives on connect.
type SessionsMsg struct {
	Type     string        `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

// ResizeMsg tells viewers the session's window size changed.
type ResizeMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// SessionEndedMsg tells viewers the upstream is gone.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// JoinSessionMsg attaches a viewer to one of its sessions.
type JoinSessionMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// InputMsg carries viewer keystrokes, optionally with a size hint.
type InputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// ResizeRequestMsg asks the relay to resize the session's PTY.
type ResizeRequestMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// ErrorMsg is sent for auth and protocol errors.
type ErrorMsg struct {
	Error string `json:"error"`
}
