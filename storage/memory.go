package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory keeps objects in process memory. Nothing survives the run; it is
// the fallback when the configured backend cannot be reached.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Read returns a copy of the value stored for key.
func (m *Memory) Read(_ context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[cleaned]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data under key.
func (m *Memory) Write(_ context.Context, key string, data []byte) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[cleaned] = append([]byte(nil), data...)
	return nil
}

// List returns the keys with the given prefix.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
