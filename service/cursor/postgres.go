package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/atomiqlabs/atomiq-chain-solana/service/db"
)

// CursorRepository is the subset of db.Store used by Postgres.
type CursorRepository interface {
	GetCursor(ctx context.Context, program string) (*db.CursorRow, error)
	UpsertCursor(ctx context.Context, program, signature string, slot uint64) error
	DeleteCursor(ctx context.Context, program string) error
}

// Postgres stores one program's cursor as a row keyed by program address.
type Postgres struct {
	repo    CursorRepository
	program string
}

var (
	_ Store   = (*Postgres)(nil)
	_ Clearer = (*Postgres)(nil)
)

// NewPostgres creates a store for program backed by repo.
func NewPostgres(repo CursorRepository, program string) *Postgres {
	return &Postgres{repo: repo, program: program}
}

// Load returns the program's cursor. A missing row means no cursor.
func (p *Postgres) Load(ctx context.Context) (*Cursor, error) {
	row, err := p.repo.GetCursor(ctx, p.program)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	return &Cursor{Signature: row.Signature, Slot: row.Slot}, nil
}

// Save upserts the program's cursor.
func (p *Postgres) Save(ctx context.Context, c Cursor) error {
	if err := p.repo.UpsertCursor(ctx, p.program, c.Signature, c.Slot); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Clear deletes the program's cursor row.
func (p *Postgres) Clear(ctx context.Context) error {
	return p.repo.DeleteCursor(ctx, p.program)
}
