package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

// SaltStore owns the vault salt file: 16 raw bytes, no header, created once
// and read-only for the lifetime of the vault.
//
// Regenerating the salt makes every sealed envelope unopenable, so the store
// never overwrites an existing file.
type SaltStore struct {
	paths Paths
}

// NewSaltStore returns a SaltStore for the vault directory in paths.
func NewSaltStore(paths Paths) *SaltStore {
	return &SaltStore{paths: paths}
}

// Exists reports whether the salt file has been created.
func (s *SaltStore) Exists() (bool, error) {
	_, err := os.Stat(s.paths.SaltPath())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat salt: %w", krypto.ErrIO, err)
	}
}

// GetOrCreateSalt returns the vault salt, generating and persisting it on the
// first call. Concurrent first calls, including from separate processes, all
// return the single salt that won the exclusive publish.
func (s *SaltStore) GetOrCreateSalt() ([]byte, error) {
	salt, err := s.read()
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := s.paths.EnsureDir(); err != nil {
		return nil, err
	}

	fresh, err := krypto.NewRandomSalt(krypto.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", krypto.ErrIO, err)
	}

	created, err := publishExclusive(s.paths.Dir, s.paths.SaltPath(), fresh)
	if err != nil {
		return nil, err
	}
	if created {
		return fresh, nil
	}

	// Lost the race; the winner's salt is the vault salt.
	return s.read()
}

// read loads the salt file. A missing file is returned as os.ErrNotExist
// unwrapped so callers can fall through to creation.
func (s *SaltStore) read() ([]byte, error) {
	data, err := os.ReadFile(s.paths.SaltPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read salt: %w", krypto.ErrIO, err)
	}
	if len(data) != krypto.SaltSize {
		return nil, fmt.Errorf("%w: salt file is %d bytes, want %d", krypto.ErrCorruptState, len(data), krypto.SaltSize)
	}
	return data, nil
}

var _ krypto.SaltSource = (*SaltStore)(nil)
