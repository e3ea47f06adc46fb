// Package runs keeps per-run filtering totals in PostgreSQL.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Schema creates the table Store writes to.
const Schema = `CREATE TABLE IF NOT EXISTS filter_runs (
    run_id      TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    requests    BIGINT NOT NULL DEFAULT 0,
    kept        BIGINT NOT NULL DEFAULT 0,
    dropped     BIGINT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Run is the accumulated outcome of every request sent under one run id.
type Run struct {
	ID          string    `json:"run_id"`
	Fingerprint string    `json:"fingerprint"`
	Requests    int64     `json:"requests"`
	Kept        int64     `json:"kept"`
	Dropped     int64     `json:"dropped"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "run-store"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating filter_runs table: %w", err)
	}
	return nil
}

// Record adds one request's totals to the run, creating it on first use.
// The fingerprint is overwritten, so it always names the latest index.
func (s *Store) Record(ctx context.Context, runID, fingerprint string, kept, dropped int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filter_runs (run_id, fingerprint, requests, kept, dropped, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			requests    = filter_runs.requests + 1,
			kept        = filter_runs.kept + EXCLUDED.kept,
			dropped     = filter_runs.dropped + EXCLUDED.dropped,
			updated_at  = EXCLUDED.updated_at`,
		runID, fingerprint, kept, dropped, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	s.logger.Debug("run recorded", "run_id", runID, "kept", kept, "dropped", dropped)
	return nil
}

// Get returns the run, or nil, nil if it has never been recorded.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, fingerprint, requests, kept, dropped, updated_at
		FROM filter_runs WHERE run_id = $1`, runID,
	).Scan(&r.ID, &r.Fingerprint, &r.Requests, &r.Kept, &r.Dropped, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return &r, nil
}

// List returns the most recently updated runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fingerprint, requests, kept, dropped, updated_at
		FROM filter_runs ORDER BY updated_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Requests, &r.Kept, &r.Dropped, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
