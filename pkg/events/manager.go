package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/pushpals/pushpals/pkg/store"
)

// Manager multiplexes per-session buses over one store. Buses are created
// on demand and live for the process lifetime.
type Manager struct {
	store   *store.Store
	bufSize int

	mu    sync.Mutex
	buses map[string]*Bus
}

// NewManager creates a bus manager. bufSize is the per-subscriber channel
// capacity.
func NewManager(st *store.Store, bufSize int) *Manager {
	return &Manager{
		store:   st,
		bufSize: bufSize,
		buses:   make(map[string]*Bus),
	}
}

// Bus returns the bus for sessionID, creating it if needed.
func (m *Manager) Bus(sessionID string) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buses[sessionID]; ok {
		return b
	}
	b := newBus(sessionID, m.store, m.bufSize)
	m.buses[sessionID] = b
	return b
}

// Rebuild rehydrates a bus for every stored session so task projections
// and readiness state survive process restarts. Called once at startup,
// before the API starts accepting traffic.
func (m *Manager) Rebuild(ctx context.Context) error {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if err := m.Bus(s.SessionID).rehydrate(ctx); err != nil {
			return err
		}
	}
	return nil
}
