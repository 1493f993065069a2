package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/storage"
)

// CheckpointStore keeps one JSONB checkpoint per session.
type CheckpointStore struct {
	db    *pgxpool.Pool
	owned *Pool
}

// NewCheckpointStore creates a CheckpointStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the schema migrated.
func NewCheckpointStore(db *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// OpenCheckpointStore creates a store that owns p and closes it on Close.
func OpenCheckpointStore(p *Pool) *CheckpointStore {
	return &CheckpointStore{db: p.DB(), owned: p}
}

// Checkpoint upserts the checkpoint of st.ID.
//
// Precondition: st.ID must not be uuid.Nil; round >= 0.
func (s *CheckpointStore) Checkpoint(ctx context.Context, st session.State, round int) error {
	if st.ID == uuid.Nil {
		return storage.ErrSessionIDRequired
	}
	if round < 0 {
		return fmt.Errorf("checkpoint round must be >= 0, got %d", round)
	}
	data, err := session.Encode(st)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO session_checkpoints (session_id, round, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			round = EXCLUDED.round,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		st.ID.String(), round, data,
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", st.ID, err)
	}
	return nil
}

// Load returns the latest checkpoint of id.
//
// Postcondition: Returns storage.ErrCheckpointNotFound for an unknown id.
func (s *CheckpointStore) Load(ctx context.Context, id uuid.UUID) (session.State, error) {
	if id == uuid.Nil {
		return session.State{}, storage.ErrSessionIDRequired
	}
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM session_checkpoints WHERE session_id = $1`, id.String(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.State{}, fmt.Errorf("session %s: %w", id, storage.ErrCheckpointNotFound)
		}
		return session.State{}, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	return session.Decode(data)
}

// Sessions lists the stored checkpoints, most recently updated first.
func (s *CheckpointStore) Sessions(ctx context.Context) ([]storage.Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id::text, round, updated_at
		FROM session_checkpoints ORDER BY updated_at DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]storage.Summary, 0)
	for rows.Next() {
		var (
			rawID string
			sum   storage.Summary
		)
		if err := rows.Scan(&rawID, &sum.Round, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning checkpoint row: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("checkpoint row: %w", err)
		}
		sum.SessionID = id
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close releases the pool when the store owns it.
func (s *CheckpointStore) Close() error {
	if s.owned != nil {
		s.owned.Close()
	}
	return nil
}
