package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("not found")

const cursorsTable = "program_cursors"

// Schema creates the tables the service needs. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS program_cursors (
    program    TEXT PRIMARY KEY,
    signature  TEXT NOT NULL,
    slot       BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CursorRow is a persisted polling cursor for one program.
type CursorRow struct {
	Program   string
	Signature string
	Slot      uint64
	UpdatedAt time.Time
}

// GetCursor returns the cursor for program, or ErrNotFound.
func (s *Store) GetCursor(ctx context.Context, program string) (row *CursorRow, err error) {
	defer s.observe("select", time.Now(), &err)

	const q = `SELECT program, signature, slot, updated_at FROM program_cursors WHERE program = $1`
	var (
		r    CursorRow
		slot int64
	)
	err = s.pool.QueryRow(ctx, q, program).Scan(&r.Program, &r.Signature, &slot, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cursor: %w", err)
	}
	r.Slot = uint64(slot)
	return &r, nil
}

// UpsertCursor inserts or replaces the cursor for program.
func (s *Store) UpsertCursor(ctx context.Context, program, signature string, slot uint64) (err error) {
	defer s.observe("upsert", time.Now(), &err)

	const q = `
INSERT INTO program_cursors (program, signature, slot, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (program) DO UPDATE
SET signature = EXCLUDED.signature,
    slot = EXCLUDED.slot,
    updated_at = EXCLUDED.updated_at`
	if _, err = s.pool.Exec(ctx, q, program, signature, int64(slot)); err != nil {
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}
	return nil
}

// DeleteCursor removes the cursor for program. Deleting a missing cursor is not an error.
func (s *Store) DeleteCursor(ctx context.Context, program string) (err error) {
	defer s.observe("delete", time.Now(), &err)

	if _, err = s.pool.Exec(ctx, `DELETE FROM program_cursors WHERE program = $1`, program); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// ListCursors returns every stored cursor ordered by program.
func (s *Store) ListCursors(ctx context.Context) (rows []*CursorRow, err error) {
	defer s.observe("list", time.Now(), &err)

	res, err := s.pool.Query(ctx, `SELECT program, signature, slot, updated_at FROM program_cursors ORDER BY program`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer res.Close()

	for res.Next() {
		var (
			r    CursorRow
			slot int64
		)
		if err := res.Scan(&r.Program, &r.Signature, &slot, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		r.Slot = uint64(slot)
		rows = append(rows, &r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cursors: %w", err)
	}
	return rows, nil
}

func (s *Store) observe(op string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	var e error
	if err != nil && !errors.Is(*err, ErrNotFound) {
		e = *err
	}
	s.metrics.RecordDBQuery(op, cursorsTable, time.Since(start).Seconds(), e)
}
