package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"scholarpass/internal/license"
)

// File stores the ledger as a JSON document on local disk. Writes go to a
// temporary file that is renamed over the target.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a store for path, creating its directory.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file store needs a path: %w", license.ErrStoreNotConfigured)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the ledger file location.
func (f *File) Path() string {
	return f.path
}

// Fetch reads and decodes the file. A missing file is an empty ledger.
func (f *File) Fetch(ctx context.Context) (*license.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return &license.Snapshot{Ledger: license.Ledger{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	ledger, err := license.DecodeLedger(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return &license.Snapshot{Ledger: ledger, Version: contentVersion(data)}, nil
}

// Replace writes the ledger atomically. ifMatch is ignored.
func (f *File) Replace(ctx context.Context, ledger license.Ledger, _ license.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := license.EncodeLedger(ledger)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Ping checks the ledger directory is accessible.
func (f *File) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("ledger directory unavailable: %w", err)
	}
	return nil
}
