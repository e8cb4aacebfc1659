package krypto

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Fernet token layout:
//
//	version(1) | timestamp(8) | iv(16) | ciphertext(n*16) | hmac(32)
//
// carried as url-safe base64 with padding.
const (
	// EnvelopeVersion is the version byte of envelopes sealed by CipherBox.
	EnvelopeVersion byte = 0x80

	timestampSize = 8
	ivSize        = 16
	blockSize     = 16
	macSize       = 32

	envelopeOverhead = 1 + timestampSize + ivSize + macSize
	minEnvelopeSize  = envelopeOverhead + blockSize
)

var envelopeEncoding = base64.URLEncoding.Strict()

// UnsupportedVersionError reports an envelope whose version byte is not
// EnvelopeVersion. It wraps ErrFormat.
type UnsupportedVersionError struct {
	Version byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("krypto: unsupported envelope version 0x%02x", e.Version)
}

// Unwrap lets errors.Is(err, ErrFormat) match.
func (e *UnsupportedVersionError) Unwrap() error { return ErrFormat }

// EnvelopeInfo is the unauthenticated metadata visible in an envelope.
// Nothing here may be trusted until Open has verified the MAC.
type EnvelopeInfo struct {
	Version  byte
	SealedAt time.Time
	Size     int
}

// ParseEnvelope checks that envelope is a structurally valid token and returns
// its header. It does not verify the MAC.
func ParseEnvelope(envelope string) (EnvelopeInfo, error) {
	raw, err := envelopeEncoding.DecodeString(envelope)
	if err != nil {
		return EnvelopeInfo{}, fmt.Errorf("%w: decode base64: %v", ErrFormat, err)
	}
	if len(raw) == 0 {
		return EnvelopeInfo{}, fmt.Errorf("%w: empty envelope", ErrFormat)
	}
	if raw[0] != EnvelopeVersion {
		return EnvelopeInfo{}, &UnsupportedVersionError{Version: raw[0]}
	}
	if len(raw) < minEnvelopeSize {
		return EnvelopeInfo{}, fmt.Errorf("%w: envelope too short (%d bytes)", ErrFormat, len(raw))
	}
	if (len(raw)-envelopeOverhead)%blockSize != 0 {
		return EnvelopeInfo{}, fmt.Errorf("%w: ciphertext is not block aligned", ErrFormat)
	}

	ts := binary.BigEndian.Uint64(raw[1 : 1+timestampSize])
	return EnvelopeInfo{
		Version:  raw[0],
		SealedAt: time.Unix(int64(ts), 0).UTC(),
		Size:     len(raw),
	}, nil
}
