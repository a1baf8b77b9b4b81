package variables

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process Namespace guarded by a RWMutex.
type Memory struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewMemory returns an empty in-memory namespace.
func NewMemory() *Memory {
	return &Memory{vars: make(map[string]string)}
}

func (m *Memory) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	m.vars[name] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	v, ok := m.vars[name]
	m.mu.RUnlock()
	return v, ok, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.vars, name)
	m.mu.Unlock()
	return nil
}

func (m *Memory) All(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.vars), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	clear(m.vars)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Namespace = (*Memory)(nil)
