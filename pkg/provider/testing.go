package provider

import (
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// FakeClock is a manually advanced Clock for deterministic deadline tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a fake clock at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current virtual time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the virtual clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NopMetrics is a Metrics implementation that records nothing.
type NopMetrics struct{}

func (NopMetrics) IncCounter(string, ...string)                     {}
func (NopMetrics) ObserveDuration(string, time.Duration, ...string) {}

// NewTestContext builds a Context suitable for tests: no-op observability,
// the given tenant, and an optional clock (system clock when nil).
func NewTestContext(t *testing.T, tenantID string, clock Clock) *Context {
	t.Helper()

	b := NewBuilder(tenantID).
		Logger(zap.NewNop()).
		Tracer(noop.NewTracerProvider().Tracer("test")).
		Metrics(NopMetrics{})
	if clock != nil {
		b = b.Clock(clock)
	}
	ctx, err := b.Build()
	if err != nil {
		t.Fatalf("building test context: %v", err)
	}
	return ctx
}

// ContractTest defines the standard suite every provider must pass. It
// exercises the lifecycle contract and the declared-capability invariant:
// each capability accessor must be non-nil exactly when the corresponding
// group is declared.
type ContractTest struct {
	// NewProvider returns a fresh, uninitialized provider.
	NewProvider func(t *testing.T) Provider

	// TenantID used for the suite's contexts. Defaults to "contract-tenant".
	TenantID string
}

// RunContractTests runs the provider contract suite.
func RunContractTests(t *testing.T, contract ContractTest) {
	tenant := contract.TenantID
	if tenant == "" {
		tenant = "contract-tenant"
	}

	t.Run("Contract", func(t *testing.T) {
		t.Run("Info", func(t *testing.T) {
			p := contract.NewProvider(t)
			info := p.Info()
			if info.Name == "" {
				t.Error("Info().Name is empty")
			}
			if info.Version == "" {
				t.Error("Info().Version is empty")
			}
			if p.Info() != info {
				t.Error("Info() not stable between calls")
			}
		})

		t.Run("CapabilityAccessorsMatchDeclaration", func(t *testing.T) {
			p := contract.NewProvider(t)
			caps := p.Capabilities()

			if (caps.KMS != nil) != (p.KMS() != nil) {
				t.Error("kms declaration and accessor disagree")
			}
			if (caps.SecretStore != nil) != (p.SecretStore() != nil) {
				t.Error("secretStore declaration and accessor disagree")
			}
			if (caps.BlobStorage != nil) != (p.BlobStorage() != nil) {
				t.Error("blobStorage declaration and accessor disagree")
			}
			if (caps.Queue != nil) != (p.Queue() != nil) {
				t.Error("queue declaration and accessor disagree")
			}
			if (caps.MetadataStore != nil) != (p.MetadataStore() != nil) {
				t.Error("metadataStore declaration and accessor disagree")
			}
		})

		t.Run("Lifecycle", func(t *testing.T) {
			p := contract.NewProvider(t)
			ctx := NewTestContext(t, tenant, nil)

			if err := p.Init(ctx.WithTimeout(5 * time.Second)); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}

			report, err := p.Health(ctx)
			if err != nil {
				t.Fatalf("Health() failed: %v", err)
			}
			if report.State != HealthHealthy && report.State != HealthDegraded {
				t.Errorf("Health() state after init = %q", report.State)
			}

			if err := p.Shutdown(ctx); err != nil {
				t.Fatalf("Shutdown() failed: %v", err)
			}
			// Shutdown must be idempotent.
			if err := p.Shutdown(ctx); err != nil {
				t.Errorf("second Shutdown() failed: %v", err)
			}
		})

		t.Run("HealthSnapshotMatchesDeclaration", func(t *testing.T) {
			p := contract.NewProvider(t)
			ctx := NewTestContext(t, tenant, nil)

			if err := p.Init(ctx.WithTimeout(5 * time.Second)); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}
			defer func() { _ = p.Shutdown(ctx) }()

			report, err := p.Health(ctx)
			if err != nil {
				t.Fatalf("Health() failed: %v", err)
			}
			declared := p.Capabilities()
			if (declared.SecretStore != nil) != (report.Capabilities.SecretStore != nil) {
				t.Error("health capability snapshot drifted from declaration")
			}
		})
	})
}
