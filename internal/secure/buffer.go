// Package secure provides memory-safe handling of plaintext key material.
//
// Data encryption keys spend their resident lifetime inside a memguard
// enclave: encrypted at rest in memory (XSalsa20Poly1305), mlocked against
// swapping, and wiped with zeros on destruction. Plaintext exists only in
// short-lived locked buffers opened around a single cipher operation.
//
// The package does not protect against attackers with root access to the
// process or hardware-level attacks; it bounds the window in which key bytes
// are recoverable from process memory.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer holds sensitive bytes inside a memguard enclave.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewBuffer copies data into a protected memory region. The caller should
// zero its own copy afterwards; see Zero.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer as soon as the operation using it
// completes:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	dek := locked.Bytes()
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// Destroy marks the buffer unusable. Idempotent. The encrypted enclave data
// is unreadable without its ephemeral key, so dropping the reference
// suffices; callers wanting a hard purge of all enclaves at process exit use
// memguard.Purge.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Zero overwrites a byte slice with zeros. Used on caller-held plaintext key
// copies once they have been sealed into a Buffer or are no longer needed.
func Zero(b []byte) {
	memguard.WipeBytes(b)
}
