package krypto

import "github.com/awnumar/memguard"

// DerivedKey holds the 32-byte key stretched from a master password.
// The bytes live in a memguard LockedBuffer (mlocked, guard pages) and are
// wiped by Destroy. A DerivedKey must not be shared between unlock attempts.
type DerivedKey struct {
	buf *memguard.LockedBuffer
}

// newDerivedKey moves raw into guarded memory. raw is wiped.
func newDerivedKey(raw []byte) *DerivedKey {
	return &DerivedKey{buf: memguard.NewBufferFromBytes(raw)}
}

// Bytes exposes the raw key. The slice is only valid until Destroy.
func (k *DerivedKey) Bytes() []byte {
	if k == nil || k.buf == nil || !k.buf.IsAlive() {
		return nil
	}
	return k.buf.Bytes()
}

// Destroy wipes the key. It is safe to call more than once.
func (k *DerivedKey) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
}

// Wipe zeroes b in place. Used for master password buffers read from a prompt.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}
