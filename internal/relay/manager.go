package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnara-ai/omnara/internal/logger"
)

// Manager is the process-wide session registry, keyed by (owner, session
// id). It holds only logical state; the sockets live on the sessions and
// their connection handlers.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	historyLimit      int
	heartbeatInterval time.Duration
	endedRetention    time.Duration
}

func NewManager(historyLimit int, heartbeatInterval, endedRetention time.Duration) *Manager {
	return &Manager{
		sessions:          make(map[string]*Session),
		historyLimit:      historyLimit,
		heartbeatInterval: heartbeatInterval,
		endedRetention:    endedRetention,
	}
}

func sessionKey(owner, id string) string {
	return owner + "/" + id
}

// Create returns the session for (owner, id), constructing it on first use.
// An existing session is resurrected: reactivated, its stale upstream
// replaced, its key hash overwritten, its history preserved.
func (m *Manager) Create(owner, id, apiKeyHash string) *Session {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey(owner, id)]
	if !ok {
		s = newSession(owner, id, apiKeyHash, m.historyLimit)
		m.sessions[sessionKey(owner, id)] = s
	}
	m.mu.Unlock()

	if ok {
		s.resurrect(apiKeyHash)
	}
	return s
}

// Get returns the session iff it exists and the presented hash may see it.
// An empty hash (bearer credentials) matches any of the owner's sessions.
func (m *Manager) Get(owner, id, apiKeyHash string) *Session {
	m.mu.Lock()
	s := m.sessions[sessionKey(owner, id)]
	m.mu.Unlock()
	if s == nil || !s.matchesHash(apiKeyHash) {
		return nil
	}
	return s
}

// SessionsFor enumerates the owner's sessions visible to the presented
// hash, oldest first.
func (m *Manager) SessionsFor(owner, apiKeyHash string) []*Session {
	m.mu.Lock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	filtered := out[:0]
	for _, s := range out {
		if s.matchesHash(apiKeyHash) {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].startedAt.Before(filtered[j].startedAt)
	})
	return filtered
}

// End idempotently ends a session. Unknown sessions are ignored.
func (m *Manager) End(owner, id string) {
	m.mu.Lock()
	s := m.sessions[sessionKey(owner, id)]
	m.mu.Unlock()
	if s != nil {
		s.End()
	}
}

// ReapInactive removes every session that ended longer than the retention
// window ago. Active sessions are never reaped. Returns the removed count.
func (m *Manager) ReapInactive() int {
	now := time.Now()

	m.mu.Lock()
	var victims []string
	for key, s := range m.sessions {
		if s.reapable(now, m.endedRetention) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	return len(victims)
}

// Run reaps periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.ReapInactive(); n > 0 {
				logger.Info("reaped ended sessions", "count", n)
			}
		}
	}
}

// Len reports the registry size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
