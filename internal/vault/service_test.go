package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// countingKMS counts adapter calls on top of a real KMS.
type countingKMS struct {
	KMSAdapter

	mu       sync.Mutex
	decrypts int
	datakeys int
}

func (c *countingKMS) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	c.decrypts++
	c.mu.Unlock()
	return c.KMSAdapter.Decrypt(ctx, ciphertext)
}

func (c *countingKMS) GenerateDataKey(ctx context.Context) (DataKey, error) {
	c.mu.Lock()
	c.datakeys++
	c.mu.Unlock()
	return c.KMSAdapter.GenerateDataKey(ctx)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *countingKMS, *MemoryKeyringStore) {
	t.Helper()

	local, err := NewEphemeralLocalKMS()
	require.NoError(t, err)
	kms := &countingKMS{KMSAdapter: local}
	store := NewMemoryKeyringStore()
	svc := NewService(kms, store, zap.NewNop(), opts...)
	t.Cleanup(svc.Close)
	return svc, kms, store
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	plaintext := []byte("super-secret-value")
	data, err := svc.Encrypt(ctx, "ws-1", plaintext)
	require.NoError(t, err)

	assert.Equal(t, 1, data.KeyVersion)
	assert.Len(t, data.IV, 16)
	assert.Len(t, data.AuthTag, 16)
	assert.NotEqual(t, plaintext, data.Ciphertext)

	got, err := svc.Decrypt(ctx, "ws-1", data)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptBootstrapsVersionOne(t *testing.T) {
	t.Parallel()

	svc, kms, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Encrypt(ctx, "ws-new", []byte("first"))
	require.NoError(t, err)

	row, err := store.GetLatestKeyring(ctx, "ws-new")
	require.NoError(t, err)
	assert.Equal(t, 1, row.KeyVersion)
	assert.True(t, row.IsActive)
	assert.NotEmpty(t, row.EncryptedDEK)
	assert.Equal(t, 1, kms.datakeys)
}

func TestEncryptUsesFreshIVPerCall(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Encrypt(ctx, "ws-1", []byte("same"))
	require.NoError(t, err)
	b, err := svc.Encrypt(ctx, "ws-1", []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptRejectsCrossWorkspace(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()

	data, err := svc.Encrypt(ctx, "ws-a", []byte("bound to a"))
	require.NoError(t, err)

	// Give ws-b byte-identical key material so only the AAD differs.
	rowA, err := store.GetLatestKeyring(ctx, "ws-a")
	require.NoError(t, err)
	require.NoError(t, store.CreateKeyring(ctx, Keyring{
		WorkspaceID:  "ws-b",
		KeyVersion:   1,
		EncryptedDEK: rowA.EncryptedDEK,
		RotatedAt:    time.Now(),
		IsActive:     true,
	}))

	_, err = svc.Decrypt(ctx, "ws-b", data)
	require.Error(t, err)

	var encErr *EncryptionError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, provider.CodeDataIntegrity, encErr.Code)
}

func TestDecryptFailsClosedOnTamper(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data, err := svc.Encrypt(ctx, "ws-1", []byte("payload"))
	require.NoError(t, err)

	data.Ciphertext[0] ^= 0xff
	got, err := svc.Decrypt(ctx, "ws-1", data)
	assert.Nil(t, got)

	var encErr *EncryptionError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, provider.CodeDataIntegrity, encErr.Code)
}

func TestRotationKeepsOldCiphertextDecryptable(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.Encrypt(ctx, "ws-1", []byte("pre-rotation"))
	require.NoError(t, err)
	require.Equal(t, 1, before.KeyVersion)

	next, err := svc.RotateWorkspaceKey(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	after, err := svc.Encrypt(ctx, "ws-1", []byte("post-rotation"))
	require.NoError(t, err)
	assert.Equal(t, 2, after.KeyVersion)

	got, err := svc.Decrypt(ctx, "ws-1", before)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation"), got)

	got, err = svc.Decrypt(ctx, "ws-1", after)
	require.NoError(t, err)
	assert.Equal(t, []byte("post-rotation"), got)
}

func TestRotateBumpsVersionSequentially(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := svc.RotateWorkspaceKey(ctx, "ws-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	latest, err := store.GetLatestKeyVersion(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 3, latest)
}

func TestDecryptMissingHistoricalVersionFails(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data, err := svc.Encrypt(ctx, "ws-1", []byte("payload"))
	require.NoError(t, err)

	data.KeyVersion = 42
	_, err = svc.Decrypt(ctx, "ws-1", data)

	var encErr *EncryptionError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, provider.CodeDataIntegrity, encErr.Code)
}

// conflictingStore fails CreateKeyring on demand, as a concurrent rotation
// winning the insert race would.
type conflictingStore struct {
	KeyringService
	failCreate bool
}

func (s *conflictingStore) CreateKeyring(ctx context.Context, row Keyring) error {
	if s.failCreate {
		return errors.New("keyring version conflict")
	}
	return s.KeyringService.CreateKeyring(ctx, row)
}

func TestFailedRotationDropsCachedKey(t *testing.T) {
	t.Parallel()

	local, err := NewEphemeralLocalKMS()
	require.NoError(t, err)
	kms := &countingKMS{KMSAdapter: local}
	store := &conflictingStore{KeyringService: NewMemoryKeyringStore()}
	svc := NewService(kms, store, zap.NewNop())
	t.Cleanup(svc.Close)

	ctx := context.Background()
	_, err = svc.Encrypt(ctx, "ws-1", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, 0, kms.decrypts)

	store.failCreate = true
	_, err = svc.RotateWorkspaceKey(ctx, "ws-1")
	require.Error(t, err)

	// The cached DEK might be stale after a lost rotation race, so the
	// next encrypt re-reads the keyring and unwraps again.
	_, err = svc.Encrypt(ctx, "ws-1", []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, 1, kms.decrypts)
}

func TestCreateKeyringDuplicateLeavesRowsUntouched(t *testing.T) {
	t.Parallel()

	store := NewMemoryKeyringStore()
	ctx := context.Background()
	require.NoError(t, store.CreateKeyring(ctx, Keyring{WorkspaceID: "ws-1", KeyVersion: 1, IsActive: true}))
	require.NoError(t, store.CreateKeyring(ctx, Keyring{WorkspaceID: "ws-1", KeyVersion: 2, IsActive: true}))

	require.Error(t, store.CreateKeyring(ctx, Keyring{WorkspaceID: "ws-1", KeyVersion: 2, IsActive: true}))

	latest, err := store.GetLatestKeyring(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.KeyVersion)
	assert.True(t, latest.IsActive)

	old, err := store.GetKeyringByVersion(ctx, "ws-1", 1)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}

func TestKeyCacheAvoidsRepeatedUnwraps(t *testing.T) {
	t.Parallel()

	svc, kms, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Encrypt(ctx, "ws-1", []byte("one"))
	require.NoError(t, err)
	_, err = svc.Encrypt(ctx, "ws-1", []byte("two"))
	require.NoError(t, err)

	// Bootstrap returns the DEK directly; no unwrap calls needed while the
	// cache entry is warm.
	assert.Equal(t, 0, kms.decrypts)
	assert.Equal(t, 1, kms.datakeys)
}

func TestKeyCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	svc, kms, _ := newTestService(t, WithClock(clock), WithKeyCacheTTL(15*time.Minute))
	ctx := context.Background()

	_, err := svc.Encrypt(ctx, "ws-1", []byte("one"))
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(16 * time.Minute)
	mu.Unlock()

	_, err = svc.Encrypt(ctx, "ws-1", []byte("two"))
	require.NoError(t, err)

	// The expired entry forces a reload, which unwraps the persisted DEK.
	assert.Equal(t, 1, kms.decrypts)
}

func TestConcurrentEncryptBootstrapsOnce(t *testing.T) {
	t.Parallel()

	svc, kms, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Encrypt(ctx, "ws-shared", []byte("payload"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	latest, err := store.GetLatestKeyVersion(ctx, "ws-shared")
	require.NoError(t, err)
	assert.Equal(t, 1, latest)
	assert.Equal(t, 1, kms.datakeys)
}

func TestTenantKeysAreIndependent(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Encrypt(ctx, "ws-a", []byte("a"))
	require.NoError(t, err)
	_, err = svc.Encrypt(ctx, "ws-b", []byte("b"))
	require.NoError(t, err)

	rowA, err := store.GetLatestKeyring(ctx, "ws-a")
	require.NoError(t, err)
	rowB, err := store.GetLatestKeyring(ctx, "ws-b")
	require.NoError(t, err)
	assert.NotEqual(t, rowA.EncryptedDEK, rowB.EncryptedDEK)
}
