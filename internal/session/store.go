package session

import (
	"context"
	"sync"
)

// UpdateFunc mutates a session under the store's per-call lock. created is
// true when the store had no session for the call id and made a fresh one.
type UpdateFunc func(s *Session, created bool) error

// Store is the keyed session storage. It is an injected dependency so a
// single instance can use the in-memory implementation below while a
// multi-instance deployment can substitute an external keyed store. Update
// must be atomic per call id: two concurrent events for the same call must
// not race on the upgrade-only tier invariant.
type Store interface {
	// Update runs fn against the session for callID, creating it first if
	// absent, and returns a snapshot of the resulting state.
	Update(ctx context.Context, callID string, fn UpdateFunc) (*Session, error)
	// Get returns a snapshot of the session for callID, or nil.
	Get(ctx context.Context, callID string) (*Session, error)
	// ActiveCount returns the number of sessions not yet ended.
	ActiveCount() int
}

// memoryEntry pairs a session with its own lock so updates for one call
// serialize without blocking other calls.
type memoryEntry struct {
	mu sync.Mutex
	s  *Session
}

// MemoryStore is the in-process Store used by a single-instance deployment.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, callID string, fn UpdateFunc) (*Session, error) {
	m.mu.Lock()
	entry, ok := m.entries[callID]
	if !ok {
		entry = &memoryEntry{s: &Session{CallID: callID, Status: StatusActive}}
		m.entries[callID] = entry
	}
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.s, !ok); err != nil {
		return nil, err
	}
	return entry.s.snapshot(), nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, callID string) (*Session, error) {
	m.mu.Lock()
	entry, ok := m.entries[callID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.s.snapshot(), nil
}

// ActiveCount implements Store.
func (m *MemoryStore) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, entry := range m.entries {
		entry.mu.Lock()
		if entry.s.Status == StatusActive {
			n++
		}
		entry.mu.Unlock()
	}
	return n
}
