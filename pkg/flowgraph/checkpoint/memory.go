package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the fast, process-local tier. It keeps only the newest
// record of each conversation; everything is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*Record // conversationID -> newest record
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*Record),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if cur, ok := m.data[rec.ConversationID]; ok && rec.Version <= cur.Version {
		return fmt.Errorf("%w: %s v%d <= v%d", ErrStaleVersion, rec.ConversationID, rec.Version, cur.Version)
	}

	// Copy to avoid retaining the caller's buffers
	m.data[rec.ConversationID] = rec.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, conversationID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := m.data[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	recs := make([]*Record, 0, len(m.data))
	for _, rec := range m.data {
		recs = append(recs, rec.Clone())
	}
	return filter.apply(recs), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, conversationID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Reset drops every record, as a process restart would.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.data = make(map[string]*Record)
	}
}

// Len returns the number of conversations held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}
