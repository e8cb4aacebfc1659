package krypto

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/fernet/fernet-go"
)

// noTTL disables fernet's token age check; vault envelopes do not expire.
const noTTL = -1

// CipherBox seals and opens secrets under one DerivedKey using Fernet
// (AES-128-CBC with HMAC-SHA256, encrypt-then-MAC).
//
// The key is immutable after construction, so Seal and Open may be called
// concurrently.
type CipherBox struct {
	key *memguard.LockedBuffer
}

// NewCipherBox builds a CipherBox from key. The box keeps its own guarded copy,
// so the caller may Destroy key right after this returns.
func NewCipherBox(key *DerivedKey) (*CipherBox, error) {
	raw := key.Bytes()
	if len(raw) != KeySize {
		return nil, fmt.Errorf("krypto: derived key must be %d bytes, got %d", KeySize, len(raw))
	}

	buf := memguard.NewBuffer(KeySize)
	buf.Copy(raw)
	buf.Freeze()
	return &CipherBox{key: buf}, nil
}

func (c *CipherBox) fernetKey() (*fernet.Key, error) {
	if c == nil || c.key == nil || !c.key.IsAlive() {
		return nil, errors.New("krypto: cipher box destroyed")
	}
	return (*fernet.Key)((*[KeySize]byte)(c.key.Bytes())), nil
}

// Seal encrypts plaintext into a printable envelope. Every call uses a fresh
// random IV, so sealing the same plaintext twice yields different envelopes.
func (c *CipherBox) Seal(plaintext []byte) (string, error) {
	k, err := c.fernetKey()
	if err != nil {
		return "", err
	}

	tok, err := fernet.EncryptAndSign(plaintext, k)
	if err != nil {
		return "", fmt.Errorf("seal envelope: %w", err)
	}
	return string(tok), nil
}

// Open verifies and decrypts envelope. It returns ErrFormat (possibly as an
// *UnsupportedVersionError) for tokens that do not parse and ErrAuthentication
// when the MAC does not verify, which is what a wrong master password looks
// like. No plaintext is returned on either path.
func (c *CipherBox) Open(envelope string) ([]byte, error) {
	k, err := c.fernetKey()
	if err != nil {
		return nil, err
	}

	if _, err := ParseEnvelope(envelope); err != nil {
		return nil, err
	}

	msg := fernet.VerifyAndDecrypt([]byte(envelope), noTTL, []*fernet.Key{k})
	if msg == nil {
		return nil, ErrAuthentication
	}
	return msg, nil
}

// SealString is Seal for string secrets.
func (c *CipherBox) SealString(plaintext string) (string, error) {
	return c.Seal([]byte(plaintext))
}

// OpenString is Open for string secrets.
func (c *CipherBox) OpenString(envelope string) (string, error) {
	msg, err := c.Open(envelope)
	if err != nil {
		return "", err
	}
	defer Wipe(msg)
	return string(msg), nil
}

// Destroy wipes the key. Seal and Open fail afterwards.
func (c *CipherBox) Destroy() {
	if c == nil || c.key == nil {
		return
	}
	c.key.Destroy()
}
