package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Useful for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	sets   map[string][]SeenRecord
	saves  map[string]int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{sets: map[string][]SeenRecord{}, saves: map[string]int{}}
}

func (m *Memory) LoadSeen(ctx context.Context, source string) ([]SeenRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	src := m.sets[source]
	out := make([]SeenRecord, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) SaveSeen(ctx context.Context, source string, records []SeenRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sets[source] = normalize(records)
	m.saves[source]++
	return nil
}

// Saves reports how many times SaveSeen succeeded for source.
func (m *Memory) Saves(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[source]
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
