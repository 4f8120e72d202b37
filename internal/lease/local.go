package lease

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalManager — аренды в памяти процесса, для одного воркера и тестов.
type LocalManager struct {
	mu   sync.Mutex
	held map[uuid.UUID]*held
}

var _ Manager = (*LocalManager)(nil)

// NewLocalManager создаёт LocalManager.
func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[uuid.UUID]*held)}
}

// Acquire реализует Manager.
func (m *LocalManager) Acquire(_ context.Context, deploymentID uuid.UUID, _ string) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[deploymentID]; ok {
		return nil, ErrHeld
	}

	var h *held
	h = newHeld(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[deploymentID] == h {
			delete(m.held, deploymentID)
		}
		return nil
	})
	close(h.done)
	m.held[deploymentID] = h
	return h, nil
}

// Revoke отбирает аренду, как при её истечении.
func (m *LocalManager) Revoke(deploymentID uuid.UUID) {
	m.mu.Lock()
	h, ok := m.held[deploymentID]
	delete(m.held, deploymentID)
	m.mu.Unlock()

	if ok {
		h.markLost()
	}
}

// IsHeld — занята ли аренда.
func (m *LocalManager) IsHeld(deploymentID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[deploymentID]
	return ok
}
