package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "/cursor/"

// Pebble stores cursors in an embedded key-value database, one key per program.
type Pebble struct {
	db  *pebble.DB
	key []byte
}

var (
	_ Store   = (*Pebble)(nil)
	_ Clearer = (*Pebble)(nil)
)

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*pebble.DB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return db, nil
}

// NewPebble creates a store for program's cursor in db. The caller owns db.
func NewPebble(db *pebble.DB, program string) *Pebble {
	return &Pebble{db: db, key: []byte(pebbleKeyPrefix + program)}
}

// Load returns the program's cursor, or nil when the key is absent.
func (p *Pebble) Load(ctx context.Context) (*Cursor, error) {
	value, closer, err := p.db.Get(p.key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	defer closer.Close()

	c, err := Parse(string(value))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes the cursor with a synced write.
func (p *Pebble) Save(ctx context.Context, c Cursor) error {
	if err := p.db.Set(p.key, []byte(c.String()), pebble.Sync); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// Clear deletes the program's key.
func (p *Pebble) Clear(ctx context.Context) error {
	if err := p.db.Delete(p.key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}
