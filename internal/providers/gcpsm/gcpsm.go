// Package gcpsm adapts Google Cloud Secret Manager to the provider contract.
// Only the secret store capability is offered; Google's KMS and queue
// services live behind separate APIs that this adapter does not wrap.
package gcpsm

import (
	"context"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// ConfigSchema validates the provider block for this adapter.
const ConfigSchema = `{
	"type": "object",
	"properties": {
		"project_id": {"type": "string", "minLength": 1},
		"credentials_file": {"type": "string"}
	},
	"required": ["project_id"],
	"additionalProperties": false
}`

// Config carries GCP connection settings.
type Config struct {
	ProjectID       string `yaml:"project_id" json:"project_id"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// SecretManagerAPI is the subset of the Secret Manager client this adapter
// uses. The real client returns concrete iterators, so it is adapted through
// a small wrapper; tests implement the interface directly.
type SecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) SecretIterator
	Close() error
}

// SecretIterator pages secrets; Next returns iterator.Done at the end.
type SecretIterator interface {
	Next() (*secretmanagerpb.Secret, error)
}

// realClient adapts *secretmanager.Client to SecretManagerAPI.
type realClient struct {
	client *secretmanager.Client
}

func (c *realClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return c.client.AccessSecretVersion(ctx, req)
}

func (c *realClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return c.client.AddSecretVersion(ctx, req)
}

func (c *realClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return c.client.CreateSecret(ctx, req)
}

func (c *realClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return c.client.DeleteSecret(ctx, req)
}

func (c *realClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) SecretIterator {
	return c.client.ListSecrets(ctx, req)
}

func (c *realClient) Close() error { return c.client.Close() }

// Provider exposes Secret Manager behind the provider contract.
type Provider struct {
	cfg     Config
	client  SecretManagerAPI
	secrets *secretStore
}

// New builds a provider with a real Secret Manager client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ProjectID == "" {
		cfg.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if cfg.ProjectID == "" {
		return nil, provider.NewError(provider.CodeInvalidConfig, "gcp", "init",
			"project_id is required", nil)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return NewWithClient(cfg, &realClient{client: client}), nil
}

// NewWithClient builds a provider on a caller-supplied client.
func NewWithClient(cfg Config, client SecretManagerAPI) *Provider {
	return &Provider{
		cfg:     cfg,
		client:  client,
		secrets: &secretStore{client: client, projectID: cfg.ProjectID},
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          "gcp",
		Version:       "1.0.0",
		Description:   "Google Cloud Secret Manager",
		SDKAPIVersion: "v1",
	}
}

func (p *Provider) Capabilities() capability.Set {
	return capability.Set{
		SecretStore: &capability.SecretStore{
			Get:        true,
			Put:        true,
			Delete:     true,
			List:       true,
			Versioning: true,
			Tagging:    true,
		},
	}
}

func (p *Provider) Init(ctx *provider.Context) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	return p.ping(ctx, "init")
}

func (p *Provider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	if err := p.ping(ctx, "provider.health"); err != nil {
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

// ping lists at most one secret to verify credentials and reachability.
func (p *Provider) ping(ctx *provider.Context, op string) error {
	it := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   "projects/" + p.cfg.ProjectID,
		PageSize: 1,
	})
	if _, err := it.Next(); err != nil && !isIteratorDone(err) {
		return mapError(err, op, p.cfg.ProjectID)
	}
	return nil
}

func (p *Provider) Shutdown(ctx *provider.Context) error {
	return p.client.Close()
}

func (p *Provider) KMS() provider.KMS                     { return nil }
func (p *Provider) SecretStore() provider.SecretStore     { return p.secrets }
func (p *Provider) BlobStorage() provider.BlobStorage     { return nil }
func (p *Provider) Queue() provider.Queue                 { return nil }
func (p *Provider) MetadataStore() provider.MetadataStore { return nil }
