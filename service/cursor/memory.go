package cursor

import (
	"context"
	"sync"
)

// Memory is an in-memory Store.
// Suitable for development and testing; data is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	cursor *Cursor
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the stored cursor, or nil.
func (m *Memory) Load(ctx context.Context) (*Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cursor == nil {
		return nil, nil
	}
	c := *m.cursor
	return &c, nil
}

// Save stores c.
func (m *Memory) Save(ctx context.Context, c Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = &c
	return nil
}

// Clear forgets the cursor.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = nil
	return nil
}
