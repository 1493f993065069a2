package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Feed routes transcript entries of one session to a Go channel, bridging the
// engine to whatever presents the table to a reader.
type Feed struct {
	id      uuid.UUID
	entries chan Entry
	mu      sync.Mutex
	closed  bool
}

// NewFeed creates a Feed for the given session.
//
// Postcondition: Returns a Feed with an open entries channel of at least one slot.
func NewFeed(id uuid.UUID, bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Feed{
		id:      id,
		entries: make(chan Entry, bufferSize),
	}
}

// SessionID returns the id of the session the feed belongs to.
func (f *Feed) SessionID() uuid.UUID {
	return f.id
}

// Push enqueues e without blocking.
//
// Postcondition: e is enqueued, or an error is returned if the feed is closed or full.
func (f *Feed) Push(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("feed %s is closed", f.id)
	}
	select {
	case f.entries <- e:
		return nil
	default:
		return fmt.Errorf("feed %s buffer full", f.id)
	}
}

// Entries returns the read-only entries channel.
func (f *Feed) Entries() <-chan Entry {
	return f.entries
}

// Close marks the feed as closed and closes the entries channel.
//
// Postcondition: The channel is closed. Further Push calls return an error.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.entries)
	}
	return nil
}

// IsClosed reports whether the feed has been closed.
func (f *Feed) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
