// Package vault implements envelope encryption for tenant-scoped secret
// payloads. Each workspace owns a data encryption key (DEK) that is wrapped
// by an external KMS; payloads are sealed with AES-256-GCM under the
// unwrapped DEK and bound to their workspace through additional
// authenticated data. Keys rotate lazily: old versions stay decryptable
// through their persisted keyring rows.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/internal/observability"
	"github.com/plumwheel/ragnos-vault/internal/secure"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

const (
	ivSize  = 16
	tagSize = 16
)

// EncryptedData is the self-describing output of Encrypt. KeyVersion alone
// is enough to locate the historical DEK needed for decryption.
type EncryptedData struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	KeyVersion int    `json:"keyVersion"`
}

// EncryptionError wraps any KMS, keyring or cipher failure. Code is
// CodeDataIntegrity for authentication failures and missing historical
// keyrings, CodeInternal otherwise.
type EncryptionError struct {
	Op          string
	WorkspaceID string
	Code        provider.Code
	cause       error
}

func (e *EncryptionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("vault: %s failed for workspace %s: %v", e.Op, e.WorkspaceID, e.cause)
	}
	return fmt.Sprintf("vault: %s failed for workspace %s", e.Op, e.WorkspaceID)
}

func (e *EncryptionError) Unwrap() error { return e.cause }

func encErr(op, workspaceID string, code provider.Code, cause error) *EncryptionError {
	return &EncryptionError{Op: op, WorkspaceID: workspaceID, Code: code, cause: cause}
}

// Service performs envelope encryption against a KMSAdapter and a
// KeyringService.
type Service struct {
	kms      KMSAdapter
	keyrings KeyringService
	cache    *keyCache
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	rotateMu sync.Mutex
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// WithKeyCacheTTL overrides the DEK cache TTL.
func WithKeyCacheTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) { o.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithMetrics wires encryption metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// NewService builds an envelope encryption service.
func NewService(kms KMSAdapter, keyrings KeyringService, logger *zap.Logger, opts ...Option) *Service {
	options := serviceOptions{ttl: DefaultKeyCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		kms:      kms,
		keyrings: keyrings,
		cache:    newKeyCache(options.ttl, options.now),
		logger:   logger,
		metrics:  options.metrics,
		now:      options.now,
	}
}

func workspaceAAD(workspaceID string) []byte {
	return []byte("workspace:" + workspaceID)
}

// Encrypt seals plaintext under the workspace's current DEK. A workspace
// with no keyring yet is bootstrapped to version 1 on first use. The
// ciphertext is bound to the workspace id via AAD, so it fails
// authentication when decrypted under any other workspace even with
// identical key material.
func (s *Service) Encrypt(ctx context.Context, workspaceID string, plaintext []byte) (EncryptedData, error) {
	start := s.now()

	buf, version, err := s.cache.get(ctx, workspaceID, func(ctx context.Context) ([]byte, int, error) {
		return s.loadOrBootstrap(ctx, workspaceID)
	})
	if err != nil {
		return EncryptedData{}, encErr("encrypt", workspaceID, provider.CodeInternal, err)
	}

	gcm, done, err := openGCM(buf)
	if err != nil {
		return EncryptedData{}, encErr("encrypt", workspaceID, provider.CodeInternal, err)
	}
	defer done()

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedData{}, encErr("encrypt", workspaceID, provider.CodeInternal, err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, workspaceAAD(workspaceID))
	out := EncryptedData{
		Ciphertext: sealed[:len(sealed)-tagSize],
		IV:         iv,
		AuthTag:    sealed[len(sealed)-tagSize:],
		KeyVersion: version,
	}
	s.observe("encrypt", start)
	return out, nil
}

// Decrypt unseals data under the exact key version it records. A tag
// mismatch or a missing historical keyring fails closed; no partial
// plaintext is returned and the latest version is never tried as a
// fallback.
func (s *Service) Decrypt(ctx context.Context, workspaceID string, data EncryptedData) ([]byte, error) {
	start := s.now()

	if len(data.IV) != ivSize {
		return nil, encErr("decrypt", workspaceID, provider.CodeDataIntegrity,
			fmt.Errorf("invalid iv length %d", len(data.IV)))
	}

	plaintext, err := s.withVersionKey(ctx, workspaceID, data.KeyVersion, func(gcm cipher.AEAD) ([]byte, error) {
		sealed := make([]byte, 0, len(data.Ciphertext)+len(data.AuthTag))
		sealed = append(sealed, data.Ciphertext...)
		sealed = append(sealed, data.AuthTag...)
		return gcm.Open(nil, data.IV, sealed, workspaceAAD(workspaceID))
	})
	if err != nil {
		return nil, err
	}
	s.observe("decrypt", start)
	return plaintext, nil
}

// RotateWorkspaceKey issues a new DEK at version previous+1, persists it and
// swaps the cache entry. Existing ciphertexts are not re-encrypted; they
// stay decryptable through their recorded version.
func (s *Service) RotateWorkspaceKey(ctx context.Context, workspaceID string) (int, error) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	latest, err := s.keyrings.GetLatestKeyVersion(ctx, workspaceID)
	if err != nil {
		s.countRotation("error")
		return 0, encErr("rotate", workspaceID, provider.CodeInternal, err)
	}

	dek, err := s.kms.GenerateDataKey(ctx)
	if err != nil {
		s.countRotation("error")
		return 0, encErr("rotate", workspaceID, provider.CodeInternal, err)
	}
	defer secure.Zero(dek.Plaintext)

	next := latest + 1
	row := Keyring{
		WorkspaceID:  workspaceID,
		KeyVersion:   next,
		EncryptedDEK: dek.Ciphertext,
		RotatedAt:    s.now(),
		IsActive:     true,
	}
	if err := s.keyrings.CreateKeyring(ctx, row); err != nil {
		// A failed insert can mean another process won the rotation race,
		// so the cached DEK may no longer be the active version.
		s.cache.invalidate(workspaceID)
		s.countRotation("error")
		return 0, encErr("rotate", workspaceID, provider.CodeInternal, err)
	}

	s.cache.replace(workspaceID, &cachedKey{
		buf:      secure.NewBuffer(dek.Plaintext),
		version:  next,
		loadedAt: s.now(),
	})

	s.logger.Info("rotated workspace key",
		zap.String("workspace", workspaceID),
		zap.Int("keyVersion", next))
	s.countRotation("ok")
	return next, nil
}

// Close wipes every cached DEK.
func (s *Service) Close() {
	s.cache.purge()
}

// loadOrBootstrap unwraps the latest DEK, creating a version-1 keyring when
// the workspace has none. Runs under the cache's singleflight, so
// concurrent first encrypts bootstrap exactly once.
func (s *Service) loadOrBootstrap(ctx context.Context, workspaceID string) ([]byte, int, error) {
	row, err := s.keyrings.GetLatestKeyring(ctx, workspaceID)
	if err == ErrKeyringNotFound {
		dek, err := s.kms.GenerateDataKey(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("generate data key: %w", err)
		}
		row = Keyring{
			WorkspaceID:  workspaceID,
			KeyVersion:   1,
			EncryptedDEK: dek.Ciphertext,
			RotatedAt:    s.now(),
			IsActive:     true,
		}
		if err := s.keyrings.CreateKeyring(ctx, row); err != nil {
			secure.Zero(dek.Plaintext)
			return nil, 0, fmt.Errorf("bootstrap keyring: %w", err)
		}
		s.logger.Info("bootstrapped workspace keyring", zap.String("workspace", workspaceID))
		return dek.Plaintext, 1, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load keyring: %w", err)
	}

	plaintext, err := s.kms.Decrypt(ctx, row.EncryptedDEK)
	if err != nil {
		return nil, 0, fmt.Errorf("unwrap dek: %w", err)
	}
	return plaintext, row.KeyVersion, nil
}

// withVersionKey resolves the DEK for an exact version and runs fn with a
// GCM built over it. A matching cached version is used directly; any other
// version is fetched by its keyring row, with the unwrapped plaintext
// cached only when the row is still active and wiped otherwise. Decryption
// never bootstraps a keyring.
func (s *Service) withVersionKey(ctx context.Context, workspaceID string, version int, fn func(cipher.AEAD) ([]byte, error)) ([]byte, error) {
	if buf, cachedVersion, ok := s.cache.peek(workspaceID); ok && cachedVersion == version {
		gcm, done, err := openGCM(buf)
		if err != nil {
			return nil, encErr("decrypt", workspaceID, provider.CodeInternal, err)
		}
		defer done()
		out, err := fn(gcm)
		if err != nil {
			return nil, encErr("decrypt", workspaceID, provider.CodeDataIntegrity, err)
		}
		return out, nil
	}

	row, err := s.keyrings.GetKeyringByVersion(ctx, workspaceID, version)
	if err == ErrKeyringNotFound {
		return nil, encErr("decrypt", workspaceID, provider.CodeDataIntegrity,
			fmt.Errorf("no keyring for version %d", version))
	}
	if err != nil {
		return nil, encErr("decrypt", workspaceID, provider.CodeInternal, err)
	}

	plaintext, err := s.kms.Decrypt(ctx, row.EncryptedDEK)
	if err != nil {
		return nil, encErr("decrypt", workspaceID, provider.CodeInternal, err)
	}
	defer secure.Zero(plaintext)

	if row.IsActive {
		s.cache.put(workspaceID, plaintext, version)
	}

	gcm, err := newGCM(plaintext)
	if err != nil {
		return nil, encErr("decrypt", workspaceID, provider.CodeInternal, err)
	}
	out, err := fn(gcm)
	if err != nil {
		return nil, encErr("decrypt", workspaceID, provider.CodeDataIntegrity, err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// openGCM builds a GCM over a secure buffer's contents. The returned done
// func releases the locked view and must be called after the cipher is no
// longer needed.
func openGCM(buf *secure.Buffer) (cipher.AEAD, func(), error) {
	locked, err := buf.Open()
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(locked.Bytes())
	if err != nil {
		locked.Destroy()
		return nil, nil, err
	}
	return gcm, locked.Destroy, nil
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.EncryptionDuration.WithLabelValues(op).Observe(s.now().Sub(start).Seconds())
	}
}

func (s *Service) countRotation(status string) {
	if s.metrics != nil {
		s.metrics.KeyRotations.WithLabelValues(status).Inc()
	}
}
