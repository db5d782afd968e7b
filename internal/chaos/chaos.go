// Package chaos wraps a provider with deterministic fault injection. It
// exists to exercise caller retry, backoff and circuit-breaker logic
// without touching a real backend: all randomness flows through a single
// seeded generator, so a fixed seed plus a fixed call sequence reproduces
// identical decisions across runs.
package chaos

import (
	"math/rand"
	"sync"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Policy decides the faults injected for one (operation, resource) class.
// Probabilities are in [0, 1] and evaluated in order: first-attempt drop,
// permanent error, transient error, latency.
type Policy struct {
	// DropOnFirstAttempt fails the first call for each (operation,
	// resource) pair unconditionally with a transient error, so callers
	// must retry at least once to succeed.
	DropOnFirstAttempt bool

	// PermanentErrorRate is the probability of a non-retryable failure.
	PermanentErrorRate float64

	// TransientErrorRate is the probability of a retryable failure. The
	// injected error is itself randomized between throttling and network
	// faults per ThrottledShare, so both retry branches get exercised.
	TransientErrorRate float64

	// ThrottledShare is the fraction of transient errors reported as
	// Throttled rather than TransientNetwork. Zero means an even split.
	ThrottledShare float64

	// Latency is slept before delegating to the inner provider.
	Latency time.Duration
}

func (p Policy) throttledShare() float64 {
	if p.ThrottledShare <= 0 {
		return 0.5
	}
	return p.ThrottledShare
}

// Options configures an Adapter.
type Options struct {
	// Seed feeds the single generator behind every decision.
	Seed int64

	// Default applies to operations with no entry in PerOperation.
	Default Policy

	// PerOperation overrides the default, keyed by dotted operation name
	// ("queue.enqueue") or by "operation:resource" for a single resource.
	PerOperation map[string]Policy

	// Sleep is the latency injection hook. Tests replace it to avoid real
	// delays; nil means time.Sleep.
	Sleep func(time.Duration)
}

// Adapter is a transparent Provider decorator injecting faults before each
// delegated call.
type Adapter struct {
	inner provider.Provider
	opts  Options

	mu       sync.Mutex
	rng      *rand.Rand
	attempts map[string]int
	sleep    func(time.Duration)
}

// New wraps inner with the given fault policy.
func New(inner provider.Provider, opts Options) *Adapter {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Adapter{
		inner:    inner,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		attempts: make(map[string]int),
		sleep:    sleep,
	}
}

// Info returns the inner provider's identity unchanged.
func (a *Adapter) Info() provider.Info { return a.inner.Info() }

// Capabilities returns the inner declaration unchanged; the adapter never
// fabricates or hides a capability.
func (a *Adapter) Capabilities() capability.Set { return a.inner.Capabilities() }

func (a *Adapter) Init(ctx *provider.Context) error { return a.inner.Init(ctx) }

func (a *Adapter) Health(ctx *provider.Context) (provider.HealthReport, error) {
	if err := a.inject(ctx, "provider.health", ""); err != nil {
		return provider.HealthReport{State: provider.HealthUnhealthy, Detail: err.Error()}, err
	}
	return a.inner.Health(ctx)
}

func (a *Adapter) Shutdown(ctx *provider.Context) error { return a.inner.Shutdown(ctx) }

// KMS returns a fault-injecting view of the inner KMS, or nil when the
// inner provider does not offer one.
func (a *Adapter) KMS() provider.KMS {
	inner := a.inner.KMS()
	if inner == nil {
		return nil
	}
	return &chaosKMS{adapter: a, inner: inner}
}

func (a *Adapter) SecretStore() provider.SecretStore {
	inner := a.inner.SecretStore()
	if inner == nil {
		return nil
	}
	return &chaosSecretStore{adapter: a, inner: inner}
}

func (a *Adapter) BlobStorage() provider.BlobStorage {
	inner := a.inner.BlobStorage()
	if inner == nil {
		return nil
	}
	return &chaosBlobStorage{adapter: a, inner: inner}
}

func (a *Adapter) Queue() provider.Queue {
	inner := a.inner.Queue()
	if inner == nil {
		return nil
	}
	return &chaosQueue{adapter: a, inner: inner}
}

func (a *Adapter) MetadataStore() provider.MetadataStore {
	inner := a.inner.MetadataStore()
	if inner == nil {
		return nil
	}
	return &chaosMetadataStore{adapter: a, inner: inner}
}

func (a *Adapter) policyFor(op, resource string) Policy {
	if resource != "" {
		if p, ok := a.opts.PerOperation[op+":"+resource]; ok {
			return p
		}
	}
	if p, ok := a.opts.PerOperation[op]; ok {
		return p
	}
	return a.opts.Default
}

// inject evaluates the policy for one call. Injected errors use the same
// taxonomy real providers use, so caller error handling cannot tell them
// apart.
func (a *Adapter) inject(ctx *provider.Context, op, resource string) error {
	policy := a.policyFor(op, resource)
	name := a.inner.Info().Name

	a.mu.Lock()
	key := op + ":" + resource
	attempt := a.attempts[key]
	a.attempts[key] = attempt + 1

	drop := policy.DropOnFirstAttempt && attempt == 0
	permanent := policy.PermanentErrorRate > 0 && a.rng.Float64() < policy.PermanentErrorRate
	transient := policy.TransientErrorRate > 0 && a.rng.Float64() < policy.TransientErrorRate
	throttled := a.rng.Float64() < policy.throttledShare()
	a.mu.Unlock()

	if drop {
		return provider.NewError(provider.CodeTransientNetwork, name, op,
			"injected first-attempt drop", nil)
	}
	if permanent {
		return provider.NewError(provider.CodeInternal, name, op,
			"injected permanent failure", nil)
	}
	if transient {
		if throttled {
			return provider.NewError(provider.CodeThrottled, name, op,
				"injected throttling", nil)
		}
		return provider.NewError(provider.CodeTransientNetwork, name, op,
			"injected network failure", nil)
	}

	if policy.Latency > 0 {
		if err := ctx.CheckExpired(); err != nil {
			return provider.NewError(provider.CodeDeadlineExceeded, name, op, "deadline exceeded before injected latency", err)
		}
		a.sleep(policy.Latency)
	}
	return nil
}
