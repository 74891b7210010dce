package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/remote"
)

// Manager lazily establishes the anonymous guest identity. It is invoked
// only immediately before the first backend quote creation, never eagerly
// at startup.
type Manager struct {
	client remote.Client

	mu      sync.Mutex
	guestID uuid.UUID
}

// NewManager returns a manager backed by the given remote client.
func NewManager(client remote.Client) *Manager {
	return &Manager{client: client}
}

// EnsureGuestSession returns the guest identity, establishing it on first
// use. Safe to call repeatedly and concurrently: the id is cached and at
// most one ensure call is in flight. A failure is a *remote.SessionError
// and leaves the manager unset so the next call retries.
func (m *Manager) EnsureGuestSession(ctx context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.guestID != uuid.Nil {
		return m.guestID, nil
	}
	id, err := m.client.EnsureGuest(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	m.guestID = id
	return id, nil
}

// GuestID returns the established identity, uuid.Nil if none yet.
func (m *Manager) GuestID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guestID
}
