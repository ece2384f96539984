package storage

import (
	"context"
	"sort"
	"sync"
)

var _ Store = (*MemoryStorage)(nil)

// MemoryStorage keeps every profile's values in process memory. State is
// lost on restart, which makes it suitable for development and tests.
type MemoryStorage struct {
	mu       sync.RWMutex
	profiles map[string]map[string]string
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{profiles: make(map[string]map[string]string)}
}

// NewMemoryKV returns a KV for a single throwaway profile.
func NewMemoryKV() KV {
	return ForProfile(NewMemoryStorage(), "local")
}

func (s *MemoryStorage) Get(_ context.Context, profile, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.profiles[profile][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStorage) Set(_ context.Context, profile, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.profiles[profile]
	if !ok {
		values = make(map[string]string)
		s.profiles[profile] = values
	}
	values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, profile, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.profiles[profile]
	if !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		delete(s.profiles, profile)
	}
	return nil
}

func (s *MemoryStorage) ProfilesWithKey(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for profile, values := range s.profiles {
		if _, ok := values[key]; ok {
			out = append(out, profile)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStorage) Close() error { return nil }
