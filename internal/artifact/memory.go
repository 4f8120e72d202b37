package artifact

import (
	"bytes"
	"context"
	"sync"

	"github.com/shaiso/Dozilab/internal/store"
)

// MemoryStore — артефакты в памяти процесса.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ store.Artifacts = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put сохраняет содержимое. Хеш должен соответствовать содержимому.
func (s *MemoryStore) Put(_ context.Context, hash string, content []byte) (string, error) {
	if err := verify(hash, content); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = bytes.Clone(content)
	}
	return "mem://templates/" + hash, nil
}

// Get возвращает содержимое по ссылке.
func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	hash, err := HashFromRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	content, ok := s.objects[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(content), nil
}
