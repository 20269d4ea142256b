package wizard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/closeflow/internal/prefs"
	"github.com/odyssey-erp/closeflow/internal/readiness"
)

// Manager owns the workspaces of all clients.
type Manager struct {
	backend   Backend
	store     prefs.Store
	reporting []string
	logger    *slog.Logger
	now       func() time.Time

	readiness  ReadinessFunc
	pollerOpts []readiness.Option

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// Option customises a Manager.
type Option func(*Manager)

// WithNow overrides the clock used for idle tracking.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReadiness enables readiness pollers backed by check.
func WithReadiness(check ReadinessFunc, opts ...readiness.Option) Option {
	return func(m *Manager) {
		m.readiness = check
		m.pollerOpts = opts
	}
}

// NewManager constructs a Manager.
func NewManager(b Backend, store prefs.Store, reporting []string, opts ...Option) *Manager {
	m := &Manager{
		backend:    b,
		store:      store,
		reporting:  reporting,
		logger:     slog.Default(),
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the workspace of clientID, creating it on first use.
func (m *Manager) Get(clientID string) *Workspace {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[clientID]
	if !ok {
		ws = newWorkspace(clientID, m, now)
		m.workspaces[clientID] = ws
		return ws
	}
	ws.touch(now)
	return ws
}

// Len returns the number of live workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Evict drops workspaces idle for longer than idle. Workspaces with an open
// readiness watch are kept. Persisted selections survive in the prefs store.
func (m *Manager) Evict(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	var evicted []*Workspace
	for id, ws := range m.workspaces {
		if since, idle := ws.idleSince(); idle && since.Before(cutoff) {
			evicted = append(evicted, ws)
			delete(m.workspaces, id)
		}
	}
	m.mu.Unlock()
	for _, ws := range evicted {
		ws.Close()
	}
	return len(evicted)
}

// Close waits for background work of every workspace.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		all = append(all, ws)
	}
	m.mu.Unlock()
	for _, ws := range all {
		ws.Close()
	}
}
