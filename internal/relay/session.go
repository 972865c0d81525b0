package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/omnara-ai/omnara/internal/frame"
	"github.com/omnara-ai/omnara/internal/logger"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// Upstream is the agent-side connection attached to a session. At most one
// exists per session; re-attaching replaces and closes the prior handle.
type Upstream interface {
	WriteFrame(t frame.Type, payload []byte) error
	Close()
}

// Session is the unit of terminal sharing: a bounded history ring of the
// most recent output, the set of attached viewers, and the upstream handle.
// All ring mutations happen on the upstream ingestion path; viewers only
// read snapshots or receive broadcasts.
type Session struct {
	Owner string
	ID    string

	mu            sync.Mutex
	apiKeyHash    string
	cols, rows    uint16
	startedAt     time.Time
	endedAt       time.Time // zero while active
	active        bool
	lastHeartbeat time.Time

	history      [][]byte
	historyBytes int
	historyLimit int

	upstream Upstream
	viewers  map[*Viewer]struct{}
}

func newSession(owner, id, apiKeyHash string, historyLimit int) *Session {
	now := time.Now()
	return &Session{
		Owner:         owner,
		ID:            id,
		apiKeyHash:    apiKeyHash,
		cols:          defaultCols,
		rows:          defaultRows,
		startedAt:     now,
		active:        true,
		lastHeartbeat: now,
		historyLimit:  historyLimit,
		viewers:       make(map[*Viewer]struct{}),
	}
}

// AttachUpstream associates the unique upstream handle, replacing and
// closing any prior one.
func (s *Session) AttachUpstream(u Upstream) {
	s.mu.Lock()
	prev := s.upstream
	s.upstream = u
	s.mu.Unlock()
	if prev != nil && prev != u {
		prev.Close()
	}
}

// DetachUpstream drops the handle, but only if it is still the attached
// one; a reattached session keeps its replacement.
func (s *Session) DetachUpstream(u Upstream) {
	s.mu.Lock()
	if s.upstream == u {
		s.upstream = nil
	}
	s.mu.Unlock()
}

// resurrect reactivates an ended session for a fresh upstream. History is
// preserved; any stale handle is replaced.
func (s *Session) resurrect(apiKeyHash string) {
	s.mu.Lock()
	s.active = true
	s.endedAt = time.Time{}
	s.apiKeyHash = apiKeyHash
	s.lastHeartbeat = time.Now()
	prev := s.upstream
	s.upstream = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// AppendOutput appends a chunk to the history ring, trims the ring to the
// byte limit, and broadcasts the chunk to every viewer. Appends after End
// are accepted (late upstream flushes) but do not revive the session.
func (s *Session) AppendOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	s.mu.Lock()
	s.history = append(s.history, chunk)
	s.historyBytes += len(chunk)
	// Trim from the front. A single chunk larger than the whole limit stays
	// as the only element.
	for len(s.history) > 1 && s.historyBytes > s.historyLimit {
		s.historyBytes -= len(s.history[0])
		s.history = s.history[1:]
	}
	s.lastHeartbeat = time.Now()
	s.broadcastLocked(viewerMsg{data: frame.Pack(frame.Output, chunk)})
	s.mu.Unlock()
}

// ForwardInput frames viewer keystrokes and sends them upstream. A missing
// upstream is not an error; the keystrokes are dropped.
func (s *Session) ForwardInput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	up := s.upstream
	s.mu.Unlock()
	if up == nil {
		return
	}
	if err := up.WriteFrame(frame.Input, data); err != nil {
		logger.Debug("forward input failed", "session", s.ID, "error", err)
	}
}

// RequestResize handles a viewer's resize request. Zero values fall back to
// the current size; a no-op request sends nothing. Otherwise the request is
// forwarded upstream verbatim and the recorded size updated immediately.
func (s *Session) RequestResize(cols, rows uint16) {
	s.mu.Lock()
	if cols == 0 {
		cols = s.cols
	}
	if rows == 0 {
		rows = s.rows
	}
	if cols == s.cols && rows == s.rows {
		s.mu.Unlock()
		return
	}
	s.cols, s.rows = cols, rows
	up := s.upstream
	s.mu.Unlock()

	if up == nil {
		return
	}
	if err := up.WriteFrame(frame.Resize, frame.ResizePayload(rows, cols)); err != nil {
		logger.Debug("forward resize failed", "session", s.ID, "error", err)
	}
}

// UpdateSize records the authoritative size reported by upstream and tells
// every viewer.
func (s *Session) UpdateSize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.lastHeartbeat = time.Now()
	s.broadcastJSONLocked(ResizeMsg{Type: TypeResize, SessionID: s.ID, Cols: cols, Rows: rows})
	s.mu.Unlock()
}

// Join registers a viewer and seeds it, in order: the current size, then
// the history snapshot, then (via the shared broadcast path) live output.
// Registration and replay happen under one lock hold so no live frame can
// slip in between.
func (s *Session) Join(v *Viewer) {
	s.mu.Lock()
	s.viewers[v] = struct{}{}
	msg, _ := json.Marshal(ResizeMsg{Type: TypeResize, SessionID: s.ID, Cols: s.cols, Rows: s.rows})
	v.enqueue(viewerMsg{text: true, data: msg})
	for _, chunk := range s.history {
		v.enqueue(viewerMsg{data: frame.Pack(frame.Output, chunk)})
	}
	s.mu.Unlock()
}

// UnregisterViewer removes a viewer; idempotent.
func (s *Session) UnregisterViewer(v *Viewer) {
	s.mu.Lock()
	delete(s.viewers, v)
	s.mu.Unlock()
}

// History returns an ordered snapshot of the ring. The chunks are shared
// but never mutated after append.
func (s *Session) History() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.history))
	copy(out, s.history)
	return out
}

// End marks the session inactive and broadcasts session_ended. Idempotent;
// the reaper removes the session once the retention window elapses.
func (s *Session) End() {
	s.mu.Lock()
	prev := s.endLocked()
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// EndFrom is the teardown path for an upstream connection handler: it
// detaches and ends only if u is still the attached handle. A teardown that
// lost the race against a reattaching upstream is a no-op, so the
// resurrected session survives.
func (s *Session) EndFrom(u Upstream) {
	s.mu.Lock()
	if s.upstream != nil && s.upstream != u {
		s.mu.Unlock()
		return
	}
	prev := s.endLocked()
	s.mu.Unlock()
	if prev != nil && prev != u {
		prev.Close()
	}
}

func (s *Session) endLocked() Upstream {
	if !s.active && !s.endedAt.IsZero() {
		return nil
	}
	s.active = false
	s.endedAt = time.Now()
	prev := s.upstream
	s.upstream = nil
	s.broadcastJSONLocked(SessionEndedMsg{Type: TypeSessionEnded, SessionID: s.ID})
	return prev
}

func (s *Session) broadcastJSONLocked(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.broadcastLocked(viewerMsg{text: true, data: msg})
}

// broadcastLocked enqueues to every viewer; a viewer that cannot accept the
// message is removed. Callers hold s.mu.
func (s *Session) broadcastLocked(m viewerMsg) {
	for v := range s.viewers {
		if !v.enqueue(m) {
			delete(s.viewers, v)
		}
	}
}

// Info snapshots the session for listings.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:        s.ID,
		Active:    s.active,
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		Cols:      s.cols,
		Rows:      s.rows,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt.UTC().Format(time.RFC3339)
		info.EndedAt = &ended
	}
	return info
}

// Size returns the last known window size.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Active reports whether the upstream has not ended the session.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// matchesHash reports whether a viewer presenting the given API-key hash may
// see this session. An empty hash (bearer credentials) matches everything
// the owner has.
func (s *Session) matchesHash(hash string) bool {
	if hash == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKeyHash == hash
}

// reapable reports whether the session ended longer than retention ago.
func (s *Session) reapable(now time.Time, retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.active && !s.endedAt.IsZero() && now.Sub(s.endedAt) > retention
}
