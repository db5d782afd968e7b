package memory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// kmsService is an AES-GCM key service over ephemeral in-process master
// keys. Key material never survives the process; this exists for local
// development and tests only.
type kmsService struct {
	mu   sync.Mutex
	keys map[string]*masterKey
}

type masterKey struct {
	id        string
	material  []byte
	createdAt time.Time
}

func newKMSService() *kmsService {
	return &kmsService{keys: make(map[string]*masterKey)}
}

// keyFor returns the named master key, creating it on first use. An empty
// id selects the "default" key.
func (k *kmsService) keyFor(id string) (*masterKey, error) {
	if id == "" {
		id = "default"
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	key, ok := k.keys[id]
	if !ok {
		material := make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, err
		}
		key = &masterKey{id: id, material: material, createdAt: time.Now()}
		k.keys[id] = key
	}
	return key, nil
}

func (k *kmsService) gcmFor(id string) (cipher.AEAD, string, error) {
	key, err := k.keyFor(id)
	if err != nil {
		return nil, "", err
	}
	block, err := aes.NewCipher(key.material)
	if err != nil {
		return nil, "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", err
	}
	return gcm, key.id, nil
}

// sealedBlob is the wire form of kms ciphertext. The encryption context is
// bound as AAD, so decrypting with a different context fails.
type sealedBlob struct {
	KeyID      string `json:"keyId"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func contextAAD(ec map[string]string) []byte {
	if len(ec) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ec))
	for key := range ec {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	aad := make([]byte, 0, 64)
	for _, key := range keys {
		aad = append(aad, key...)
		aad = append(aad, '=')
		aad = append(aad, ec[key]...)
		aad = append(aad, ';')
	}
	return aad
}

func (k *kmsService) Encrypt(ctx *provider.Context, req provider.KMSEncryptRequest) (provider.KMSEncryptResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.KMSEncryptResult{}, err
	}
	gcm, keyID, err := k.gcmFor(req.KeyID)
	if err != nil {
		return provider.KMSEncryptResult{}, provider.NewError(provider.CodeInternal, "memory", "kms.encrypt", "cipher setup failed", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return provider.KMSEncryptResult{}, provider.NewError(provider.CodeInternal, "memory", "kms.encrypt", "nonce generation failed", err)
	}
	sealed := gcm.Seal(nil, nonce, req.Plaintext, contextAAD(req.EncryptionContext))
	blob, err := json.Marshal(sealedBlob{KeyID: keyID, Nonce: nonce, Ciphertext: sealed})
	if err != nil {
		return provider.KMSEncryptResult{}, provider.NewError(provider.CodeInternal, "memory", "kms.encrypt", "blob encoding failed", err)
	}
	return provider.KMSEncryptResult{Ciphertext: blob, KeyID: keyID, KeyVersion: "1"}, nil
}

func (k *kmsService) Decrypt(ctx *provider.Context, req provider.KMSDecryptRequest) (provider.KMSDecryptResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.KMSDecryptResult{}, err
	}
	var blob sealedBlob
	if err := json.Unmarshal(req.Ciphertext, &blob); err != nil {
		return provider.KMSDecryptResult{}, provider.NewError(provider.CodeDataIntegrity, "memory", "kms.decrypt", "malformed ciphertext", err)
	}
	gcm, keyID, err := k.gcmFor(blob.KeyID)
	if err != nil {
		return provider.KMSDecryptResult{}, provider.NewError(provider.CodeInternal, "memory", "kms.decrypt", "cipher setup failed", err)
	}
	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, contextAAD(req.EncryptionContext))
	if err != nil {
		return provider.KMSDecryptResult{}, provider.NewError(provider.CodeDataIntegrity, "memory", "kms.decrypt", "authentication failed", err)
	}
	return provider.KMSDecryptResult{Plaintext: plaintext, KeyID: keyID}, nil
}

func (k *kmsService) GenerateDataKey(ctx *provider.Context, req provider.GenerateDataKeyRequest) (provider.DataKey, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.DataKey{}, err
	}
	size := req.Bytes
	if size <= 0 {
		size = 32
	}
	plaintext := make([]byte, size)
	if _, err := rand.Read(plaintext); err != nil {
		return provider.DataKey{}, provider.NewError(provider.CodeInternal, "memory", "kms.generateDataKey", "key generation failed", err)
	}
	wrapped, err := k.Encrypt(ctx, provider.KMSEncryptRequest{KeyID: req.KeyID, Plaintext: plaintext})
	if err != nil {
		return provider.DataKey{}, err
	}
	return provider.DataKey{Plaintext: plaintext, Ciphertext: wrapped.Ciphertext, KeyID: wrapped.KeyID}, nil
}

func (k *kmsService) DescribeKey(ctx *provider.Context, keyID string) (provider.KeyInfo, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.KeyInfo{}, err
	}
	if keyID == "" {
		keyID = "default"
	}
	k.mu.Lock()
	key, ok := k.keys[keyID]
	k.mu.Unlock()
	if !ok {
		return provider.KeyInfo{}, provider.NewError(provider.CodeNotFound, "memory", "kms.describeKey",
			fmt.Sprintf("no key %q", keyID), nil)
	}
	return provider.KeyInfo{
		KeyID:     key.id,
		Algorithm: "AES-256-GCM",
		CreatedAt: key.createdAt,
		Enabled:   true,
	}, nil
}
