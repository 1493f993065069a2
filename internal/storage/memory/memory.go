// Package memory provides an in-process checkpoint store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/storage"
)

type record struct {
	state     session.State
	round     int
	updatedAt time.Time
}

// Store keeps checkpoints in memory. States are cloned on the way in and out.
type Store struct {
	mu      sync.Mutex
	records map[uuid.UUID]record
	now     func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: make(map[uuid.UUID]record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Checkpoint replaces the checkpoint of st.ID.
//
// Precondition: st.ID must not be uuid.Nil; round >= 0.
func (s *Store) Checkpoint(ctx context.Context, st session.State, round int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return errors.New("checkpoint store is required")
	}
	if st.ID == uuid.Nil {
		return storage.ErrSessionIDRequired
	}
	if round < 0 {
		return fmt.Errorf("checkpoint round must be >= 0, got %d", round)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[st.ID] = record{state: st.Clone(), round: round, updatedAt: s.now()}
	return nil
}

// Load returns the latest checkpoint of id.
//
// Postcondition: Returns storage.ErrCheckpointNotFound for an unknown id.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (session.State, error) {
	if err := ctx.Err(); err != nil {
		return session.State{}, err
	}
	if id == uuid.Nil {
		return session.State{}, storage.ErrSessionIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return session.State{}, fmt.Errorf("session %s: %w", id, storage.ErrCheckpointNotFound)
	}
	return rec.state.Clone(), nil
}

// Sessions lists the stored checkpoints, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]storage.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Summary, 0, len(s.records))
	for id, rec := range s.records {
		out = append(out, storage.Summary{SessionID: id, Round: rec.round, UpdatedAt: rec.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID.String() < out[j].SessionID.String()
	})
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
