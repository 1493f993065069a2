// Package storage defines the checkpoint store shared by the memory, postgres and
// sqlite backends. A checkpoint is the latest complete session state together with the
// round it was taken in; saving replaces the previous checkpoint of the session.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/dmtable/internal/game/session"
)

var (
	// ErrCheckpointNotFound is returned by Load when a session has no checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrSessionIDRequired is returned when a checkpoint carries the nil session id.
	ErrSessionIDRequired = errors.New("session id is required")
)

// Summary describes one stored checkpoint without its state.
type Summary struct {
	SessionID uuid.UUID
	Round     int
	UpdatedAt time.Time
}

// Store persists session checkpoints.
type Store interface {
	// Checkpoint replaces the checkpoint of st.ID.
	Checkpoint(ctx context.Context, st session.State, round int) error
	// Load returns the latest checkpoint of a session, or ErrCheckpointNotFound.
	Load(ctx context.Context, id uuid.UUID) (session.State, error)
	// Sessions lists every stored checkpoint, most recently updated first.
	Sessions(ctx context.Context) ([]Summary, error)
	Close() error
}

// Latest returns the id of the most recently checkpointed session.
//
// Postcondition: Returns ErrCheckpointNotFound when the store is empty.
func Latest(ctx context.Context, s Store) (uuid.UUID, error) {
	sums, err := s.Sessions(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if len(sums) == 0 {
		return uuid.Nil, ErrCheckpointNotFound
	}
	return sums[0].SessionID, nil
}
