package provider

import "time"

// KMS is the key-management capability contract. Implementations wrap a
// backend KMS (cloud key service, HSM, or the local development master key);
// plaintext data keys returned by GenerateDataKey exist only in process
// memory and must be zeroed by the caller when no longer needed.
type KMS interface {
	// Encrypt encrypts plaintext directly under the named key.
	Encrypt(ctx *Context, req KMSEncryptRequest) (KMSEncryptResult, error)

	// Decrypt decrypts ciphertext produced by Encrypt or GenerateDataKey.
	Decrypt(ctx *Context, req KMSDecryptRequest) (KMSDecryptResult, error)

	// GenerateDataKey returns a fresh data key in both plaintext and
	// wrapped form, for envelope encryption.
	GenerateDataKey(ctx *Context, req GenerateDataKeyRequest) (DataKey, error)

	// DescribeKey returns metadata for the named key.
	DescribeKey(ctx *Context, keyID string) (KeyInfo, error)
}

// KMSEncryptRequest carries plaintext and the optional encryption context
// bound into the ciphertext as authenticated data.
type KMSEncryptRequest struct {
	KeyID             string
	Plaintext         []byte
	EncryptionContext map[string]string
}

// KMSEncryptResult is the wrapped output of an Encrypt call.
type KMSEncryptResult struct {
	Ciphertext []byte
	KeyID      string
	KeyVersion string
}

// KMSDecryptRequest carries ciphertext and the encryption context it was
// bound to. A mismatched context must fail the call.
type KMSDecryptRequest struct {
	KeyID             string
	Ciphertext        []byte
	EncryptionContext map[string]string
}

// KMSDecryptResult holds recovered plaintext.
type KMSDecryptResult struct {
	Plaintext []byte
	KeyID     string
}

// GenerateDataKeyRequest names the wrapping key and the desired spec.
type GenerateDataKeyRequest struct {
	KeyID string
	// Bytes is the data key length; 32 (AES-256) when zero.
	Bytes int
}

// DataKey is a generated data encryption key. Plaintext must be zeroed by
// the caller as soon as it has been used or sealed elsewhere.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// KeyInfo describes a managed key.
type KeyInfo struct {
	KeyID     string
	Algorithm string
	CreatedAt time.Time
	Enabled   bool
}
