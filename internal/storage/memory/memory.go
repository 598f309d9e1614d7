package memory

import (
	"context"
	"sync"

	"ChatWidget/internal/storage"
)

type Storage struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ storage.KV = (*Storage)(nil)

func New() *Storage {
	return &Storage{data: make(map[string]string)}
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, storage.ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Len is used by tests to check that nothing leaked past a reset.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Storage) Close() error { return nil }
