package durable

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps values in a map, bounded by the total bytes of keys and
// values. It stands in for browser-style storage in tests and the CLI.
type MemoryStore struct {
	name     string
	maxBytes int64

	mu    sync.RWMutex
	data  map[string]string
	usage int64
}

// NewMemoryStore returns a store refusing writes past maxBytes; maxBytes <= 0
// means unbounded.
func NewMemoryStore(name string, maxBytes int64) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{
		name:     name,
		maxBytes: maxBytes,
		data:     make(map[string]string),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := s.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.maxBytes > 0 && s.usage+delta > s.maxBytes {
		return ErrQuota.WithData("key", key).WithData("max_bytes", s.maxBytes)
	}
	s.data[key] = value
	s.usage += delta
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.usage -= int64(len(key) + len(old))
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Usage returns the bytes currently held.
func (s *MemoryStore) Usage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

func (s *MemoryStore) Close() error { return nil }
