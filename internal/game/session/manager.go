package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned when a session id is not open in the Manager.
var ErrUnknownSession = errors.New("unknown session")

// Table is an open session: its latest state and the feed its transcript flows to.
type Table struct {
	state State
	// published is the number of transcript entries already pushed to Feed.
	published int
	Feed      *Feed
}

// Manager tracks every open table.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	tables map[uuid.UUID]*Table
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{tables: make(map[uuid.UUID]*Table)}
}

// Open registers st as a live table. Transcript entries already present in st are
// considered published.
//
// Precondition: st must be valid.
// Postcondition: Returns the created Table, or an error if the id is already open.
func (m *Manager) Open(st State) (*Table, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[st.ID]; exists {
		return nil, fmt.Errorf("session %s already open", st.ID)
	}
	t := &Table{
		state:     st.Clone(),
		published: len(st.Transcript),
		Feed:      NewFeed(st.ID, 256),
	}
	m.tables[st.ID] = t
	return t, nil
}

// Update stores st as the latest state of its table and pushes every transcript entry
// that was not yet published to the table's feed.
//
// Postcondition: Returns ErrUnknownSession if the table is not open, or the first feed
// error; the state is stored either way.
func (m *Manager) Update(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[st.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, st.ID)
	}
	t.state = st.Clone()
	if t.published > len(st.Transcript) {
		t.published = len(st.Transcript)
	}
	var firstErr error
	for _, e := range st.Transcript[t.published:] {
		if err := t.Feed.Push(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.published = len(st.Transcript)
	return firstErr
}

// Close removes a table and closes its feed.
func (m *Manager) Close(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	_ = t.Feed.Close()
	delete(m.tables, id)
	return nil
}

// Get returns a clone of the latest state of the table.
//
// Postcondition: Returns (state, true) if open, or (zero, false) otherwise.
func (m *Manager) Get(id uuid.UUID) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return State{}, false
	}
	return t.state.Clone(), true
}

// IDs returns the ids of every open table in a stable order.
func (m *Manager) IDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(m.tables))
	for id := range m.tables {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return out
}

// Count returns the number of open tables.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}
