package krypto

import "errors"

var (
	// ErrIO is returned when the salt file or its directory cannot be read or written.
	ErrIO = errors.New("krypto: storage i/o failed")

	// ErrCorruptState is returned when persisted key material has an unexpected shape,
	// e.g. a salt file that is not exactly SaltSize bytes. A corrupt salt still
	// derives a key, just the wrong one, so this is fatal for the vault instance.
	ErrCorruptState = errors.New("krypto: corrupt vault state")

	// ErrAuthentication is returned when an envelope's MAC does not verify under
	// the current key. This is the only signal of a wrong master password.
	ErrAuthentication = errors.New("krypto: envelope authentication failed")

	// ErrFormat is returned when an envelope is not a well-formed token.
	ErrFormat = errors.New("krypto: malformed envelope")
)

// IsIO returns true if the error is or wraps ErrIO.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsCorruptState returns true if the error is or wraps ErrCorruptState.
func IsCorruptState(err error) bool {
	return errors.Is(err, ErrCorruptState)
}

// IsAuthentication returns true if the error is or wraps ErrAuthentication.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsFormat returns true if the error is or wraps ErrFormat.
func IsFormat(err error) bool {
	return errors.Is(err, ErrFormat)
}
