package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the cursor file name inside the configured directory.
const FileName = "last_signature.txt"

// File stores the cursor as a single "<signature>;<slot>" line.
type File struct {
	mu   sync.Mutex
	path string
}

var (
	_ Store   = (*File)(nil)
	_ Clearer = (*File)(nil)
)

// NewFile creates a file-backed store at dir/FileName. The directory is created on
// first Save.
func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, FileName)}
}

// Path returns the cursor file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the cursor. A missing file is not an error and returns nil.
func (f *File) Load(ctx context.Context) (*Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}
	c, err := Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("cursor file %s: %w", f.path, err)
	}
	return &c, nil
}

// Save writes the cursor through a temporary file and a rename, so readers never see
// a partial line.
func (f *File) Save(ctx context.Context, c Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cursor file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(c.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cursor file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}
	return nil
}

// Clear removes the cursor file.
func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cursor file: %w", err)
	}
	return nil
}
