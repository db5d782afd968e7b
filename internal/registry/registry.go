// Package registry owns the provider factory-to-instance lifecycle, tenant
// routing tables and the background health loop that keeps routing
// decisions safe.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/internal/observability"
	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Factory constructs a provider from validated configuration.
type Factory func(config map[string]any) (provider.Provider, error)

// Registration binds a provider name to its factory and the constraints
// instances of it are created under.
type Registration struct {
	Name    string
	Factory Factory

	// ConfigSchema is an optional JSON schema; CreateInstance validates
	// instance config against it before calling the factory.
	ConfigSchema string

	// InitializationTimeout bounds Init. Zero means DefaultInitTimeout.
	InitializationTimeout time.Duration
}

// Mapping routes a tenant to a named provider.
type Mapping struct {
	Region string
	Config map[string]any

	// Weight biases random selection when a tenant maps to several
	// providers. Zero or negative counts as 1.
	Weight float64
}

func (m Mapping) weight() float64 {
	if m.Weight <= 0 {
		return 1
	}
	return m.Weight
}

// Defaults for registry timing knobs.
const (
	DefaultInitTimeout           = 30 * time.Second
	DefaultHealthInterval        = 30 * time.Second
	DefaultMaxFailures           = 3
	DefaultCircuitBreakerTimeout = 60 * time.Second
)

// Registry is the explicitly constructed, explicitly passed provider
// registry. There is no package-level singleton.
type Registry struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	clock    provider.Clock
	randFunc func() float64

	healthInterval time.Duration
	maxFailures    int
	breakerTimeout time.Duration

	mu            sync.RWMutex
	registrations map[string]Registration
	instances     map[string]*Instance
	mappings      map[string]map[string]Mapping // tenantID → providerName → Mapping
	closed        bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthInterval sets the health probe interval.
func WithHealthInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.healthInterval = d }
}

// WithMaxFailures sets how many consecutive probe failures open the breaker.
func WithMaxFailures(n int) RegistryOption {
	return func(r *Registry) { r.maxFailures = n }
}

// WithCircuitBreakerTimeout sets the delay before a half-open transition is
// logged. The breaker itself still closes only on an observed healthy probe.
func WithCircuitBreakerTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.breakerTimeout = d }
}

// WithClock overrides the time source.
func WithClock(c provider.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithRand overrides the selection random source with a function returning
// values in [0, 1). Production uses math/rand; tests inject a fixed or
// seeded source.
func WithRand(f func() float64) RegistryOption {
	return func(r *Registry) { r.randFunc = f }
}

// WithMetrics wires registry metrics.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// New builds a registry. The health loop does not run until Start is
// called.
func New(logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:         logger,
		clock:          provider.SystemClock(),
		randFunc:       rand.Float64,
		healthInterval: DefaultHealthInterval,
		maxFailures:    DefaultMaxFailures,
		breakerTimeout: DefaultCircuitBreakerTimeout,
		registrations:  make(map[string]Registration),
		instances:      make(map[string]*Instance),
		mappings:       make(map[string]map[string]Mapping),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a factory under its registration name. Re-registering a
// name replaces the binding; live instances created from the old binding
// are unaffected until recreated.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return provider.NewError(provider.CodeInvalidConfig, "", "register", "registration name is required", nil)
	}
	if reg.Factory == nil {
		return provider.NewError(provider.CodeInvalidConfig, reg.Name, "register", "registration factory is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[reg.Name] = reg
	return nil
}

// Unregister removes a factory binding, best-effort shutting down any live
// instance first.
func (r *Registry) Unregister(ctx *provider.Context, name string) {
	r.mu.Lock()
	inst := r.instances[name]
	delete(r.instances, name)
	delete(r.registrations, name)
	r.mu.Unlock()

	if inst != nil {
		if err := inst.provider.Shutdown(ctx); err != nil {
			r.logger.Warn("provider shutdown failed during unregister",
				zap.String("provider", name), zap.Error(err))
		}
	}
}

// CreateInstance validates config, constructs the provider, initializes it
// under a bounded deadline, seeds its status with one health probe and
// stores it under the registration name.
func (r *Registry) CreateInstance(ctx *provider.Context, name string, config map[string]any) (*Instance, error) {
	r.mu.RLock()
	reg, ok := r.registrations[name]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, provider.NewError(provider.CodeInternal, name, "createInstance", "registry is shut down", nil)
	}
	if !ok {
		return nil, provider.NewError(provider.CodeNotFound, name, "createInstance", "no registration with that name", nil)
	}

	if err := r.validateConfig(reg, config); err != nil {
		return nil, err
	}

	p, err := reg.Factory(config)
	if err != nil {
		return nil, provider.NewError(provider.CodeInternal, name, "createInstance", "factory failed", err)
	}

	timeout := reg.InitializationTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	initCtx := ctx.WithDeadline(r.clock.Now().Add(timeout))
	if err := p.Init(initCtx); err != nil {
		return nil, provider.NewError(provider.CodeInternal, name, "createInstance", "provider initialization failed", err)
	}

	inst := &Instance{
		provider:     p,
		registration: reg,
		status:       provider.HealthInitializing,
	}
	r.probe(ctx, name, inst)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, provider.NewError(provider.CodeInternal, name, "createInstance", "registry is shut down", nil)
	}
	r.instances[name] = inst
	return inst, nil
}

func (r *Registry) validateConfig(reg Registration, config map[string]any) error {
	if reg.ConfigSchema == "" {
		return nil
	}
	if config == nil {
		config = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(reg.ConfigSchema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return provider.NewError(provider.CodeInvalidConfig, reg.Name, "createInstance", "config schema evaluation failed", err)
	}
	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}
			detail += desc.String()
		}
		return provider.NewError(provider.CodeInvalidConfig, reg.Name, "createInstance",
			fmt.Sprintf("config does not match schema: %s", detail), nil)
	}
	return nil
}

// Instance returns the live instance registered under name, if any.
func (r *Registry) Instance(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// SetTenantMapping routes a tenant to a provider. Last writer wins per
// (tenant, provider) pair; a tenant may map to several providers for
// fan-out, failover or migration.
func (r *Registry) SetTenantMapping(tenantID, providerName string, mapping Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byProvider, ok := r.mappings[tenantID]
	if !ok {
		byProvider = make(map[string]Mapping)
		r.mappings[tenantID] = byProvider
	}
	byProvider[providerName] = mapping
}

// RemoveTenantMapping drops the (tenant, provider) route.
func (r *Registry) RemoveTenantMapping(tenantID, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byProvider := r.mappings[tenantID]
	delete(byProvider, providerName)
	if len(byProvider) == 0 {
		delete(r.mappings, tenantID)
	}
}

// GetProvider selects a provider for the tenant, optionally requiring a
// capability name per the dotted "service.operation" form. Instances that
// are missing or circuit-open are excluded before selection; among the
// survivors a weighted random choice is made. This is the single point
// that converts "no eligible backend" into a typed failure.
func (r *Registry) GetProvider(tenantID, capabilityName string) (provider.Provider, error) {
	r.mu.RLock()
	byProvider := r.mappings[tenantID]
	if len(byProvider) == 0 {
		r.mu.RUnlock()
		return nil, provider.NewError(provider.CodeNotFound, "", "getProvider",
			fmt.Sprintf("no provider mappings for tenant %s", tenantID), nil)
	}

	type candidate struct {
		name   string
		inst   *Instance
		weight float64
	}
	available := make([]candidate, 0, len(byProvider))
	for name, mapping := range byProvider {
		inst, ok := r.instances[name]
		if !ok || inst.BreakerOpen() {
			continue
		}
		available = append(available, candidate{name: name, inst: inst, weight: mapping.weight()})
	}
	r.mu.RUnlock()

	if len(available) == 0 {
		return nil, provider.NewError(provider.CodeNotFound, "", "getProvider",
			fmt.Sprintf("no live provider available for tenant %s", tenantID), nil)
	}

	if capabilityName != "" {
		qualified := available[:0]
		for _, c := range available {
			if c.inst.provider.Capabilities().Has(capabilityName) {
				qualified = append(qualified, c)
			}
		}
		if len(qualified) == 0 {
			return nil, provider.NewError(provider.CodeUnsupportedCapability, "", "getProvider",
				fmt.Sprintf("no provider for tenant %s supports %s", tenantID, capabilityName),
				&capability.UnsupportedError{Capability: capabilityName})
		}
		available = qualified
	}

	total := 0.0
	for _, c := range available {
		total += c.weight
	}
	target := r.randFunc() * total
	selected := available[len(available)-1]
	for _, c := range available {
		target -= c.weight
		if target < 0 {
			selected = c
			break
		}
	}

	if r.metrics != nil {
		r.metrics.RoutingDecisions.WithLabelValues(tenantID, selected.name).Inc()
	}
	return selected.inst.provider, nil
}

// Shutdown stops the health loop first so no new probes start, then shuts
// down every instance best-effort and clears all in-memory state.
func (r *Registry) Shutdown(ctx *provider.Context) {
	r.Stop()

	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*Instance)
	r.registrations = make(map[string]Registration)
	r.mappings = make(map[string]map[string]Mapping)
	r.closed = true
	r.mu.Unlock()

	for name, inst := range instances {
		if err := inst.provider.Shutdown(ctx); err != nil {
			r.logger.Warn("provider shutdown failed",
				zap.String("provider", name), zap.Error(err))
		}
	}
}
