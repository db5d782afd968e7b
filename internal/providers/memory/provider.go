// Package memory is the in-process reference provider. It implements every
// capability group over plain maps and is used for local development,
// contract tests and as the inner provider under chaos wrapping.
package memory

import (
	"sync"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Provider holds all in-memory state. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	kms      *kmsService
	secrets  *secretService
	blobs    *blobService
	queues   *queueService
	metadata *metadataService

	initialized bool
	shutdown    bool
}

// New builds an empty in-memory provider.
func New() *Provider {
	p := &Provider{}
	p.kms = newKMSService()
	p.secrets = newSecretService()
	p.blobs = newBlobService()
	p.queues = newQueueService()
	p.metadata = newMetadataService()
	return p
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          "memory",
		Version:       "1.0.0",
		Description:   "in-process provider backed by maps",
		SDKAPIVersion: "v1",
	}
}

func (p *Provider) Capabilities() capability.Set {
	return capability.Set{
		KMS: &capability.KMS{
			Encrypt:         true,
			Decrypt:         true,
			GenerateDataKey: true,
			DescribeKey:     true,
		},
		SecretStore: &capability.SecretStore{
			Get:        true,
			Put:        true,
			Delete:     true,
			List:       true,
			Versioning: true,
			Tagging:    true,
		},
		BlobStorage: &capability.BlobStorage{
			Get:       true,
			Put:       true,
			Delete:    true,
			List:      true,
			Multipart: true,
		},
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
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return provider.NewError(provider.CodeInternal, "memory", "init", "provider is shut down", nil)
	}
	p.initialized = true
	return nil
}

func (p *Provider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := provider.HealthHealthy
	detail := ""
	if !p.initialized {
		state = provider.HealthInitializing
		detail = "init not called"
	}
	if p.shutdown {
		state = provider.HealthUnhealthy
		detail = "shut down"
	}
	return provider.HealthReport{
		State:        state,
		Detail:       detail,
		Capabilities: p.Capabilities(),
	}, nil
}

func (p *Provider) Shutdown(ctx *provider.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	return nil
}

func (p *Provider) KMS() provider.KMS                     { return p.kms }
func (p *Provider) SecretStore() provider.SecretStore     { return p.secrets }
func (p *Provider) BlobStorage() provider.BlobStorage     { return p.blobs }
func (p *Provider) Queue() provider.Queue                 { return p.queues }
func (p *Provider) MetadataStore() provider.MetadataStore { return p.metadata }
