package secrets

import (
	"context"
	"sync"
)

const memoryScheme = "mem"

// MemoryStore — секреты в памяти процесса.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Put реализует Store.
func (s *MemoryStore) Put(_ context.Context, path, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
	return memoryScheme + ":" + path, nil
}

// Get реализует Store.
func (s *MemoryStore) Get(_ context.Context, handle string) (string, error) {
	path, err := parseHandle(memoryScheme, handle)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Delete реализует Store.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	path, err := parseHandle(memoryScheme, handle)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, path)
	return nil
}

// Len возвращает число хранимых секретов.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
