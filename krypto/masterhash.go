package krypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params captures tunable parameters for Argon2id.
type Argon2Params struct {
	MemoryMB    uint32
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

// Upper bounds on verifier parameters, four times the defaults. They apply to
// HashMaster and to verifiers read back from the database.
const (
	maxArgon2MemoryKB    = 4 * 64 * 1024
	maxArgon2Time        = 4 * 3
	maxArgon2Parallelism = 16
	maxArgon2KeyLen      = 64
)

// DefaultArgon2Params returns the parameters used for master password verifiers.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryMB:    64,
		Time:        3,
		Parallelism: 1,
		SaltLen:     SaltSize,
		KeyLen:      32,
	}
}

func (p Argon2Params) validate() error {
	if p.KeyLen == 0 {
		return errors.New("key length must be positive")
	}
	if p.MemoryMB == 0 {
		return errors.New("memory parameter must be positive")
	}
	if p.Time == 0 {
		return errors.New("time parameter must be positive")
	}
	if p.Parallelism == 0 {
		return errors.New("parallelism must be positive")
	}
	if p.SaltLen <= 0 {
		return errors.New("salt length must be positive")
	}
	if p.MemoryMB > maxArgon2MemoryKB/1024 || p.Time > maxArgon2Time ||
		p.Parallelism > maxArgon2Parallelism || p.KeyLen > maxArgon2KeyLen {
		return errors.New("argon2 parameters exceed the supported maximum")
	}
	return nil
}

// NewRandomSalt returns n bytes from crypto/rand.
func NewRandomSalt(n int) ([]byte, error) {
	if n <= 0 {
		n = SaltSize
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

var phcB64 = base64.RawStdEncoding

// HashMaster returns an Argon2id verifier for master in PHC string form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
//
// The verifier has its own salt and is unrelated to the vault key.
func HashMaster(master []byte, p Argon2Params) (string, error) {
	if len(master) == 0 {
		return "", errors.New("password is required")
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	salt, err := NewRandomSalt(p.SaltLen)
	if err != nil {
		return "", err
	}

	memoryKB := p.MemoryMB * 1024
	sum := argon2.IDKey(master, salt, p.Time, memoryKB, p.Parallelism, p.KeyLen)
	defer Wipe(sum)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memoryKB, p.Time, p.Parallelism,
		phcB64.EncodeToString(salt), phcB64.EncodeToString(sum)), nil
}

// VerifyMaster reports whether master matches a verifier produced by HashMaster.
func VerifyMaster(master []byte, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, fmt.Errorf("%w: not an argon2id hash", ErrCorruptState)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("%w: unsupported argon2 version", ErrCorruptState)
	}

	var memoryKB, t uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKB, &t, &par); err != nil {
		return false, fmt.Errorf("%w: parse argon2 params: %v", ErrCorruptState, err)
	}
	if memoryKB == 0 || t == 0 || par == 0 {
		return false, fmt.Errorf("%w: invalid argon2 params", ErrCorruptState)
	}
	if memoryKB > maxArgon2MemoryKB || t > maxArgon2Time || par > maxArgon2Parallelism {
		return false, fmt.Errorf("%w: argon2 params out of range (m=%d,t=%d,p=%d)", ErrCorruptState, memoryKB, t, par)
	}

	salt, err := phcB64.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: decode argon2 salt: %v", ErrCorruptState, err)
	}
	want, err := phcB64.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > maxArgon2KeyLen {
		return false, fmt.Errorf("%w: decode argon2 hash", ErrCorruptState)
	}

	got := argon2.IDKey(master, salt, t, memoryKB, par, uint32(len(want)))
	defer Wipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
