package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/plumwheel/ragnos-vault/internal/secure"
)

// KMSAdapter is the external key-management dependency of the encryption
// service. Implementations wrap and unwrap data encryption keys; the adapter
// never sees workspace plaintext.
type KMSAdapter interface {
	// Encrypt wraps plaintext under the adapter's master key.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt unwraps ciphertext produced by Encrypt or GenerateDataKey.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// GenerateDataKey returns a fresh 32-byte data key in plaintext and
	// wrapped form. The caller owns zeroing the plaintext copy.
	GenerateDataKey(ctx context.Context) (DataKey, error)
}

// DataKey is a generated data encryption key.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
}

// LocalKMS self-wraps data keys with an in-process master key. Development
// only: the master key lives beside the data it protects, which defeats the
// purpose of a KMS. Production deployments configure a cloud adapter.
type LocalKMS struct {
	master *secure.Buffer
}

// NewLocalKMS builds the development KMS from a 32-byte master key. The
// caller's key slice is wiped.
func NewLocalKMS(masterKey []byte) (*LocalKMS, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("local kms: master key must be 32 bytes, got %d", len(masterKey))
	}
	return &LocalKMS{master: secure.NewBuffer(masterKey)}, nil
}

// NewEphemeralLocalKMS builds a LocalKMS with a random master key, for tests
// and throwaway environments.
func NewEphemeralLocalKMS() (*LocalKMS, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("local kms: generating master key: %w", err)
	}
	return NewLocalKMS(key)
}

// Encrypt wraps plaintext with AES-256-GCM under the master key.
func (l *LocalKMS) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := l.masterGCM()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("local kms: generating nonce: %w", err)
	}
	return append(nonce, gcm.Seal(nil, nonce, plaintext, nil)...), nil
}

// Decrypt unwraps ciphertext produced by Encrypt.
func (l *LocalKMS) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	gcm, err := l.masterGCM()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("local kms: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("local kms: unwrap failed: %w", err)
	}
	return plaintext, nil
}

// GenerateDataKey returns a fresh random data key and its wrapped form.
func (l *LocalKMS) GenerateDataKey(ctx context.Context) (DataKey, error) {
	plaintext := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return DataKey{}, fmt.Errorf("local kms: generating data key: %w", err)
	}
	wrapped, err := l.Encrypt(ctx, plaintext)
	if err != nil {
		return DataKey{}, err
	}
	return DataKey{Plaintext: plaintext, Ciphertext: wrapped}, nil
}

func (l *LocalKMS) masterGCM() (cipher.AEAD, error) {
	locked, err := l.master.Open()
	if err != nil {
		return nil, fmt.Errorf("local kms: opening master key: %w", err)
	}
	defer locked.Destroy()

	block, err := aes.NewCipher(locked.Bytes())
	if err != nil {
		return nil, fmt.Errorf("local kms: cipher creation failed: %w", err)
	}
	return cipher.NewGCM(block)
}
