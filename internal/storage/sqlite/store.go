// Package sqlite provides a SQLite-backed checkpoint store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/storage"
	"github.com/cory-johannsen/dmtable/internal/storage/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store persists session checkpoints in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies the embedded migrations.
//
// Precondition: path must be non-empty.
// Postcondition: Returns a ready Store or a non-nil error; no handle is leaked on error.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; the coordinator checkpoints sequentially
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint replaces the checkpoint of st.ID.
func (s *Store) Checkpoint(ctx context.Context, st session.State, round int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_checkpoints (session_id, round, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   round = excluded.round,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		st.ID.String(), round, string(data), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", st.ID, err)
	}
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
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_checkpoints WHERE session_id = ?`, id.String(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.State{}, fmt.Errorf("session %s: %w", id, storage.ErrCheckpointNotFound)
		}
		return session.State{}, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	return session.Decode([]byte(data))
}

// Sessions lists the stored checkpoints, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]storage.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, round, updated_at FROM session_checkpoints
		 ORDER BY updated_at DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]storage.Summary, 0)
	for rows.Next() {
		var (
			rawID   string
			sum     storage.Summary
			updated int64
		)
		if err := rows.Scan(&rawID, &sum.Round, &updated); err != nil {
			return nil, fmt.Errorf("scanning checkpoint row: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("checkpoint row: %w", err)
		}
		sum.SessionID = id
		sum.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// applyMigrations runs every embedded .sql file once, in name order.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var found int
		err := db.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}
