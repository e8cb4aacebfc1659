package krypto

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor. Every envelope ever sealed depends on
	// it, so changing it requires re-encrypting the whole vault.
	Iterations = 390000

	// KeySize is the derived key length in bytes.
	KeySize = 32

	// SaltSize is the length of the vault salt in bytes.
	SaltSize = 16
)

// SaltSource supplies the vault salt, creating it on first use.
type SaltSource interface {
	GetOrCreateSalt() ([]byte, error)
}

// KeyDeriver stretches master passwords into DerivedKeys with PBKDF2-HMAC-SHA256.
//
// DeriveKey never fails because a password is wrong: any password yields some
// key. A wrong password is only detected when CipherBox.Open rejects an envelope
// with ErrAuthentication.
type KeyDeriver struct {
	salts SaltSource
}

// NewKeyDeriver returns a deriver bound to one vault's salt.
func NewKeyDeriver(salts SaltSource) *KeyDeriver {
	return &KeyDeriver{salts: salts}
}

// DeriveKeyBytes runs PBKDF2-HMAC-SHA256 over master and salt. The password is
// taken as-is; no Unicode normalization is applied.
func DeriveKeyBytes(master, salt []byte) []byte {
	return pbkdf2.Key(master, salt, Iterations, KeySize, sha256.New)
}

// DeriveKey derives the session key for master. The computation runs on its own
// goroutine; if ctx is done first the result is discarded and ctx.Err() returned.
// The caller owns master and should wipe it afterwards.
func (d *KeyDeriver) DeriveKey(ctx context.Context, master []byte) (*DerivedKey, error) {
	if d == nil || d.salts == nil {
		return nil, errors.New("krypto: key deriver has no salt source")
	}

	salt, err := d.salts.GetOrCreateSalt()
	if err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes, want %d", ErrCorruptState, len(salt), SaltSize)
	}

	// The goroutine works on its own copy so the caller may wipe master as soon
	// as we return, even when the derivation is abandoned.
	pw := make([]byte, len(master))
	copy(pw, master)

	done := make(chan []byte, 1)
	go func() {
		defer Wipe(pw)
		done <- DeriveKeyBytes(pw, salt)
	}()

	select {
	case raw := <-done:
		return newDerivedKey(raw), nil
	case <-ctx.Done():
		go func() { Wipe(<-done) }()
		return nil, ctx.Err()
	}
}
