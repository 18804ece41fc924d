package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process SeenStore. It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	items map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]time.Time),
	}
}

// Contains reports whether id is stored.
func (m *Memory) Contains(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

// Insert records id until expiresAt. Re-inserting extends the expiry.
func (m *Memory) Insert(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.items[id]; ok && cur.After(expiresAt) {
		return nil
	}
	m.items[id] = expiresAt.UTC()
	return nil
}

// Expire removes entries whose expiry is not after now.
func (m *Memory) Expire(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, exp := range m.items {
		if !now.Before(exp) {
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
