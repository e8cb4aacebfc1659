package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

const (
	saltFilename     = "salt.bin"
	databaseFilename = "vault.db"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Paths locates vault artifacts on disk.
type Paths struct {
	Dir string
}

// SaltPath resolves the salt file path.
func (p Paths) SaltPath() string {
	return filepath.Join(p.Dir, saltFilename)
}

// DatabasePath resolves the SQLite database path.
func (p Paths) DatabasePath() string {
	return filepath.Join(p.Dir, databaseFilename)
}

// EnsureDir creates the vault directory (owner-only) if it does not exist.
func (p Paths) EnsureDir() error {
	if p.Dir == "" {
		return errors.New("vault directory not specified")
	}
	if err := os.MkdirAll(p.Dir, dirPerm); err != nil {
		return fmt.Errorf("%w: create vault directory: %w", krypto.ErrIO, err)
	}
	return nil
}

// publishExclusive writes data to path only if path does not exist yet.
//
// The bytes go to a temp file in the same directory first and are published
// with a hard link, which is atomic and fails with os.ErrExist when another
// writer got there first. Readers never see a partially written file. The
// returned bool is false when the file already existed; data was not written.
func publishExclusive(dir, path string, data []byte) (bool, error) {
	tmp, err := os.CreateTemp(dir, ".salt-*.tmp")
	if err != nil {
		return false, fmt.Errorf("%w: create temp file: %w", krypto.ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: chmod temp file: %w", krypto.ErrIO, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: write temp file: %w", krypto.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: sync temp file: %w", krypto.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("%w: close temp file: %w", krypto.ErrIO, err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: publish %s: %w", krypto.ErrIO, filepath.Base(path), err)
	}
	return true, nil
}
