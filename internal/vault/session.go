package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

// RecordStore persists opaque envelopes per user and account.
type RecordStore interface {
	StoreSecret(ctx context.Context, userID int64, account, envelope string) error
	FetchSecret(ctx context.Context, userID int64, account string) (string, error)
	FirstEnvelope(ctx context.Context, userID int64) (string, error)
}

// Deriver turns a master password into a DerivedKey.
type Deriver interface {
	DeriveKey(ctx context.Context, master []byte) (*krypto.DerivedKey, error)
}

// ErrLocked is returned by a Session after Close.
var ErrLocked = errors.New("vault locked")

// Session is one unlocked vault for one user: a CipherBox plus the store it
// seals into. Unlock always succeeds for any password; a wrong one surfaces
// as krypto.ErrAuthentication on the first FetchSecret or Verify.
type Session struct {
	userID  int64
	box     *krypto.CipherBox
	records RecordStore
}

// Unlock derives the key for master and builds the session's CipherBox.
// The DerivedKey is destroyed before returning; only the CipherBox keeps key
// material. The caller owns master and should wipe it.
func Unlock(ctx context.Context, deriver Deriver, records RecordStore, userID int64, master []byte) (*Session, error) {
	if len(master) == 0 {
		return nil, errors.New("master password cannot be empty")
	}

	key, err := deriver.DeriveKey(ctx, master)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer key.Destroy()

	box, err := krypto.NewCipherBox(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher box: %w", err)
	}

	return &Session{userID: userID, box: box, records: records}, nil
}

// UserID returns the user the session was unlocked for.
func (s *Session) UserID() int64 { return s.userID }

// StoreSecret seals plaintext and stores the envelope under account,
// replacing any previous secret.
func (s *Session) StoreSecret(ctx context.Context, account, plaintext string) error {
	if s.box == nil {
		return ErrLocked
	}
	if account == "" {
		return errors.New("account name is required")
	}

	envelope, err := s.box.SealString(plaintext)
	if err != nil {
		return fmt.Errorf("seal %q: %w", account, err)
	}
	if err := s.records.StoreSecret(ctx, s.userID, account, envelope); err != nil {
		return err
	}
	return nil
}

// Seal returns the envelope for plaintext without storing it.
func (s *Session) Seal(plaintext string) (string, error) {
	if s.box == nil {
		return "", ErrLocked
	}
	return s.box.SealString(plaintext)
}

// FetchSecret loads the envelope for account and opens it.
func (s *Session) FetchSecret(ctx context.Context, account string) (string, error) {
	if s.box == nil {
		return "", ErrLocked
	}

	envelope, err := s.records.FetchSecret(ctx, s.userID, account)
	if err != nil {
		return "", err
	}

	plain, err := s.box.OpenString(envelope)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", account, err)
	}
	return plain, nil
}

// Verify opens the user's oldest envelope to check the master password early.
// With no stored secrets there is nothing to check against and Verify returns nil.
// A malformed oldest envelope is returned as krypto.ErrFormat; it says nothing
// about the key.
func (s *Session) Verify(ctx context.Context) error {
	if s.box == nil {
		return ErrLocked
	}

	envelope, err := s.records.FirstEnvelope(ctx, s.userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	plain, err := s.box.Open(envelope)
	if err != nil {
		return fmt.Errorf("verify master password: %w", err)
	}
	krypto.Wipe(plain)
	return nil
}

// Close destroys the session key. Further calls return ErrLocked.
func (s *Session) Close() {
	if s.box == nil {
		return
	}
	s.box.Destroy()
	s.box = nil
}
