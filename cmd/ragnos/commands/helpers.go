// Package commands holds the ragnos CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/plumwheel/ragnos-vault/internal/config"
	"github.com/plumwheel/ragnos-vault/internal/logging"
	"github.com/plumwheel/ragnos-vault/internal/observability"
	"github.com/plumwheel/ragnos-vault/internal/providers/awssm"
	"github.com/plumwheel/ragnos-vault/internal/providers/azurekv"
	"github.com/plumwheel/ragnos-vault/internal/providers/gcpsm"
	"github.com/plumwheel/ragnos-vault/internal/providers/memory"
	"github.com/plumwheel/ragnos-vault/internal/providers/redisq"
	"github.com/plumwheel/ragnos-vault/internal/registry"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Env carries the state the root command resolves before subcommands run.
type Env struct {
	ConfigPath string
	Logger     *zap.Logger

	promReg *prometheus.Registry
	metrics *observability.Metrics
}

// Metrics lazily builds the process-wide collectors. Every Env owns its own
// prometheus registry so parallel tests never collide on registration.
func (e *Env) Metrics() *observability.Metrics {
	if e.metrics == nil {
		e.promReg = prometheus.NewRegistry()
		e.metrics = observability.NewMetrics(e.promReg)
	}
	return e.metrics
}

// Gatherer exposes the collectors for scraping or snapshot dumps.
func (e *Env) Gatherer() prometheus.Gatherer {
	e.Metrics()
	return e.promReg
}

func (e *Env) loadConfig() (*config.Definition, error) {
	return config.Load(e.ConfigPath)
}

// adminContext builds a provider context for CLI-initiated operations.
func (e *Env) adminContext(timeout time.Duration) (*provider.Context, error) {
	b := provider.NewBuilder("admin").
		Parent(context.Background()).
		Logger(e.Logger).
		Tracer(noop.NewTracerProvider().Tracer("ragnos-cli")).
		Metrics(observability.NewRecorder(e.Metrics()))
	if timeout > 0 {
		b = b.Deadline(time.Now().Add(timeout))
	}
	return b.Build()
}

// redactBlock masks config values whose key names look credential-like, so a
// debug echo of the loaded definition never prints secrets. fmt resolves the
// wrapped values through logging.Secret's Stringer.
func redactBlock(block map[string]any) map[string]any {
	out := make(map[string]any, len(block))
	for k, v := range block {
		if sensitiveKey(k) {
			out[k] = logging.Secret(fmt.Sprint(v))
		} else {
			out[k] = v
		}
	}
	return out
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, marker := range []string{"password", "secret", "token", "credential", "key"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// decodeBlock maps an inline provider block onto a typed adapter config.
func decodeBlock(block map[string]any, out any) error {
	raw, err := yaml.Marshal(block)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}

// registrations returns every built-in provider type keyed by name.
func registrations() map[string]registry.Registration {
	return map[string]registry.Registration{
		"memory": {
			Name: "memory",
			Factory: func(map[string]any) (provider.Provider, error) {
				return memory.New(), nil
			},
		},
		"redis": {
			Name:         "redis",
			ConfigSchema: redisq.ConfigSchema,
			Factory: func(block map[string]any) (provider.Provider, error) {
				var cfg redisq.Config
				if err := decodeBlock(block, &cfg); err != nil {
					return nil, err
				}
				return redisq.New(cfg), nil
			},
		},
		"aws": {
			Name:         "aws",
			ConfigSchema: awssm.ConfigSchema,
			Factory: func(block map[string]any) (provider.Provider, error) {
				var cfg awssm.Config
				if err := decodeBlock(block, &cfg); err != nil {
					return nil, err
				}
				return awssm.New(context.Background(), cfg)
			},
		},
		"gcp": {
			Name:         "gcp",
			ConfigSchema: gcpsm.ConfigSchema,
			Factory: func(block map[string]any) (provider.Provider, error) {
				var cfg gcpsm.Config
				if err := decodeBlock(block, &cfg); err != nil {
					return nil, err
				}
				return gcpsm.New(context.Background(), cfg)
			},
		},
		"azure": {
			Name:         "azure",
			ConfigSchema: azurekv.ConfigSchema,
			Factory: func(block map[string]any) (provider.Provider, error) {
				var cfg azurekv.Config
				if err := decodeBlock(block, &cfg); err != nil {
					return nil, err
				}
				return azurekv.New(cfg)
			},
		},
	}
}

// buildRegistry registers built-in types, creates every configured instance
// and installs the tenant routing table.
func buildRegistry(env *Env, def *config.Definition) (*registry.Registry, *provider.Context, error) {
	opts := []registry.RegistryOption{registry.WithMetrics(env.Metrics())}
	if def.Registry.HealthInterval.Std() > 0 {
		opts = append(opts, registry.WithHealthInterval(def.Registry.HealthInterval.Std()))
	}
	if def.Registry.MaxFailures > 0 {
		opts = append(opts, registry.WithMaxFailures(def.Registry.MaxFailures))
	}
	if def.Registry.CircuitBreakerTimeout.Std() > 0 {
		opts = append(opts, registry.WithCircuitBreakerTimeout(def.Registry.CircuitBreakerTimeout.Std()))
	}
	reg := registry.New(env.Logger, opts...)

	builtins := registrations()
	for name, block := range def.Providers {
		base, ok := builtins[block.Type]
		if !ok {
			return nil, nil, fmt.Errorf("provider %q has unknown type %q", name, block.Type)
		}
		base.Name = name
		base.InitializationTimeout = block.Timeout()
		if err := reg.Register(base); err != nil {
			return nil, nil, err
		}
		env.Logger.Debug("registered provider",
			zap.String("name", name),
			zap.String("type", block.Type),
			zap.String("config", fmt.Sprint(redactBlock(block.Config))))
	}

	ctx, err := env.adminContext(0)
	if err != nil {
		return nil, nil, err
	}
	for name, block := range def.Providers {
		if _, err := reg.CreateInstance(ctx, name, block.Config); err != nil {
			return nil, nil, fmt.Errorf("create provider %q: %w", name, err)
		}
	}

	for tenant, mappings := range def.Tenants {
		for name, m := range mappings {
			reg.SetTenantMapping(tenant, name, registry.Mapping{
				Region: m.Region,
				Weight: float64(m.Weight),
				Config: def.Providers[name].Config,
			})
		}
	}
	return reg, ctx, nil
}
