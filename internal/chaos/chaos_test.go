package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumwheel/ragnos-vault/internal/providers/memory"
	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

func testCtx(t *testing.T) *provider.Context {
	t.Helper()
	return provider.NewTestContext(t, "tenant-1", nil)
}

func TestContractWithEmptyPolicy(t *testing.T) {
	t.Parallel()

	provider.RunContractTests(t, provider.ContractTest{
		NewProvider: func(t *testing.T) provider.Provider {
			return New(memory.New(), Options{Seed: 7})
		},
	})
}

func TestPassthroughWithEmptyPolicy(t *testing.T) {
	t.Parallel()

	inner := memory.New()
	adapter := New(inner, Options{Seed: 1})
	ctx := testCtx(t)

	assert.Equal(t, inner.Info(), adapter.Info())
	assert.Equal(t, inner.Capabilities(), adapter.Capabilities())

	_, err := adapter.SecretStore().PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
	require.NoError(t, err)
	got, err := adapter.SecretStore().GetSecret(ctx, provider.GetSecretRequest{Name: "s"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got.Value)
}

func TestDropOnFirstAttempt(t *testing.T) {
	t.Parallel()

	adapter := New(memory.New(), Options{
		Seed:    1,
		Default: Policy{DropOnFirstAttempt: true},
	})
	ctx := testCtx(t)
	store := adapter.SecretStore()

	_, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))

	// The retry for the same (operation, resource) goes through.
	_, err = store.PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
	require.NoError(t, err)

	// A different resource gets its own first-attempt drop.
	_, err = store.PutSecret(ctx, provider.PutSecretRequest{Name: "other", Value: []byte("v")})
	require.Error(t, err)
}

func TestPermanentErrorsAreNotRetryable(t *testing.T) {
	t.Parallel()

	adapter := New(memory.New(), Options{
		Seed:    1,
		Default: Policy{PermanentErrorRate: 1},
	})
	ctx := testCtx(t)

	_, err := adapter.SecretStore().GetSecret(ctx, provider.GetSecretRequest{Name: "s"})
	require.Error(t, err)
	assert.False(t, provider.IsRetryable(err))
	assert.Equal(t, provider.CodeInternal, provider.CodeOf(err))
}

func TestTransientErrorsSplitBetweenThrottleAndNetwork(t *testing.T) {
	t.Parallel()

	adapter := New(memory.New(), Options{
		Seed:    42,
		Default: Policy{TransientErrorRate: 1},
	})
	ctx := testCtx(t)
	store := adapter.SecretStore()

	seen := map[provider.Code]int{}
	for i := 0; i < 200; i++ {
		_, err := store.GetSecret(ctx, provider.GetSecretRequest{Name: "s"})
		require.Error(t, err)
		code := provider.CodeOf(err)
		assert.True(t, provider.IsRetryable(err))
		seen[code]++
	}
	assert.Greater(t, seen[provider.CodeThrottled], 0)
	assert.Greater(t, seen[provider.CodeTransientNetwork], 0)
}

func TestPerOperationPolicyOverridesDefault(t *testing.T) {
	t.Parallel()

	adapter := New(memory.New(), Options{
		Seed: 1,
		PerOperation: map[string]Policy{
			"secretStore.get":        {PermanentErrorRate: 1},
			"secretStore.put:frozen": {PermanentErrorRate: 1},
		},
	})
	ctx := testCtx(t)
	store := adapter.SecretStore()

	// Writes outside the targeted resource are unaffected.
	_, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "ok", Value: []byte("v")})
	require.NoError(t, err)

	_, err = store.PutSecret(ctx, provider.PutSecretRequest{Name: "frozen", Value: []byte("v")})
	require.Error(t, err)

	_, err = store.GetSecret(ctx, provider.GetSecretRequest{Name: "ok"})
	require.Error(t, err)
}

func TestInjectedLatency(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	adapter := New(memory.New(), Options{
		Seed:    1,
		Default: Policy{Latency: 250 * time.Millisecond},
		Sleep:   func(d time.Duration) { slept = append(slept, d) },
	})
	ctx := testCtx(t)

	_, err := adapter.SecretStore().PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, slept)
}

func TestNilCapabilityPassesThrough(t *testing.T) {
	t.Parallel()

	adapter := New(&kmsOnlyProvider{inner: memory.New()}, Options{Seed: 1})

	assert.NotNil(t, adapter.KMS())
	assert.Nil(t, adapter.SecretStore())
	assert.Nil(t, adapter.BlobStorage())
	assert.Nil(t, adapter.Queue())
	assert.Nil(t, adapter.MetadataStore())
}

// kmsOnlyProvider restricts the memory provider to its kms group.
type kmsOnlyProvider struct {
	inner *memory.Provider
}

func (p *kmsOnlyProvider) Info() provider.Info { return p.inner.Info() }

func (p *kmsOnlyProvider) Capabilities() capability.Set {
	return capability.Set{KMS: p.inner.Capabilities().KMS}
}

func (p *kmsOnlyProvider) Init(ctx *provider.Context) error { return p.inner.Init(ctx) }
func (p *kmsOnlyProvider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	return p.inner.Health(ctx)
}
func (p *kmsOnlyProvider) Shutdown(ctx *provider.Context) error { return p.inner.Shutdown(ctx) }

func (p *kmsOnlyProvider) KMS() provider.KMS                     { return p.inner.KMS() }
func (p *kmsOnlyProvider) SecretStore() provider.SecretStore     { return nil }
func (p *kmsOnlyProvider) BlobStorage() provider.BlobStorage     { return nil }
func (p *kmsOnlyProvider) Queue() provider.Queue                 { return nil }
func (p *kmsOnlyProvider) MetadataStore() provider.MetadataStore { return nil }

func TestSameSeedReproducesDecisions(t *testing.T) {
	t.Parallel()

	run := func() []bool {
		adapter := New(memory.New(), Options{
			Seed:    99,
			Default: Policy{TransientErrorRate: 0.5},
		})
		ctx := testCtx(t)
		store := adapter.SecretStore()

		outcomes := make([]bool, 0, 50)
		for i := 0; i < 50; i++ {
			_, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
			outcomes = append(outcomes, err == nil)
		}
		return outcomes
	}

	assert.Equal(t, run(), run())
}

func TestDifferentSeedsDiverge(t *testing.T) {
	t.Parallel()

	run := func(seed int64) []bool {
		adapter := New(memory.New(), Options{
			Seed:    seed,
			Default: Policy{TransientErrorRate: 0.5},
		})
		ctx := testCtx(t)
		store := adapter.SecretStore()

		outcomes := make([]bool, 0, 50)
		for i := 0; i < 50; i++ {
			_, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "s", Value: []byte("v")})
			outcomes = append(outcomes, err == nil)
		}
		return outcomes
	}

	assert.NotEqual(t, run(3), run(4))
}
