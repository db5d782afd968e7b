// Package redisq is a Redis-backed provider covering the queue and
// metadata-store capability groups. Queues are modeled as a sorted set of
// message ids scored by their visible-at time plus one hash per message;
// metadata entries are hashes with an embedded version counter.
package redisq

import (
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Config selects the Redis instance.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix namespaces all keys this provider writes. Defaults to
	// "ragnos".
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// ConfigSchema validates Config when instances are created through the
// registry.
const ConfigSchema = `{
	"type": "object",
	"properties": {
		"addr": {"type": "string", "minLength": 1},
		"password": {"type": "string"},
		"db": {"type": "integer", "minimum": 0},
		"keyPrefix": {"type": "string"}
	},
	"required": ["addr"]
}`

// Provider implements queue and metadata storage over one Redis client.
type Provider struct {
	cfg    Config
	client *redis.Client

	queue    *queueService
	metadata *metadataService

	closeOnce sync.Once
	closeErr  error
}

// New builds the provider. The connection is not checked until Init.
func New(cfg Config) *Provider {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ragnos"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(cfg, client)
}

// NewWithClient wraps an existing client. Tests use it with miniredis.
func NewWithClient(cfg Config, client *redis.Client) *Provider {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ragnos"
	}
	return newWithClient(cfg, client)
}

func newWithClient(cfg Config, client *redis.Client) *Provider {
	return &Provider{
		cfg:      cfg,
		client:   client,
		queue:    &queueService{client: client, prefix: cfg.KeyPrefix},
		metadata: &metadataService{client: client, prefix: cfg.KeyPrefix},
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          "redis",
		Version:       "1.0.0",
		Description:   "Redis-backed queue and metadata store",
		SDKAPIVersion: "v1",
	}
}

func (p *Provider) Capabilities() capability.Set {
	return capability.Set{
		Queue: &capability.Queue{
			Enqueue:          true,
			Dequeue:          true,
			Ack:              true,
			Delay:            true,
			ChangeVisibility: true,
		},
		MetadataStore: &capability.MetadataStore{
			Get:            true,
			Put:            true,
			Delete:         true,
			List:           true,
			CompareAndSwap: true,
		},
	}
}

func (p *Provider) Init(ctx *provider.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return provider.NewError(provider.CodeTransientNetwork, "redis", "init", "ping failed", err)
	}
	return nil
}

func (p *Provider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return provider.HealthReport{
			State:        provider.HealthUnhealthy,
			Detail:       err.Error(),
			Capabilities: p.Capabilities(),
		}, err
	}
	return provider.HealthReport{
		State:        provider.HealthHealthy,
		Capabilities: p.Capabilities(),
	}, nil
}

// Shutdown closes the client once; repeat calls return the first result.
func (p *Provider) Shutdown(ctx *provider.Context) error {
	p.closeOnce.Do(func() { p.closeErr = p.client.Close() })
	return p.closeErr
}

func (p *Provider) KMS() provider.KMS                     { return nil }
func (p *Provider) SecretStore() provider.SecretStore     { return nil }
func (p *Provider) BlobStorage() provider.BlobStorage     { return nil }
func (p *Provider) Queue() provider.Queue                 { return p.queue }
func (p *Provider) MetadataStore() provider.MetadataStore { return p.metadata }
