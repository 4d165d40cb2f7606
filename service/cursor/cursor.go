// Package cursor persists the polling resume point for a program's signature history.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned when a persisted cursor cannot be parsed.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a resume point into a topic's signature index. Signature is
// authoritative; Slot is informational and used to refuse rewinds.
type Cursor struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

// String returns the persisted form "<signature>;<slot>".
func (c Cursor) String() string {
	return c.Signature + ";" + strconv.FormatUint(c.Slot, 10)
}

// Parse reads the "<signature>;<slot>" form. A bare signature parses with slot 0.
func Parse(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, fmt.Errorf("%w: empty", ErrInvalidCursor)
	}
	sig, slotStr, hasSlot := strings.Cut(s, ";")
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return Cursor{}, fmt.Errorf("%w: missing signature in %q", ErrInvalidCursor, s)
	}
	c := Cursor{Signature: sig}
	if hasSlot {
		slot, err := strconv.ParseUint(strings.TrimSpace(slotStr), 10, 64)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: bad slot in %q: %v", ErrInvalidCursor, s, err)
		}
		c.Slot = slot
	}
	return c, nil
}

// Store loads and saves one topic's cursor.
type Store interface {
	// Load returns the saved cursor, or nil when none has been saved.
	Load(ctx context.Context) (*Cursor, error)

	// Save replaces the saved cursor.
	Save(ctx context.Context, c Cursor) error
}

// Clearer is implemented by stores that can forget their cursor.
type Clearer interface {
	Clear(ctx context.Context) error
}
