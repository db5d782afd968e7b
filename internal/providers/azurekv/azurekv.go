// Package azurekv adapts Azure Key Vault secrets to the provider contract.
// The azsecrets client sits behind a narrow interface; the list pager is
// flattened inside the real-client wrapper because the generic runtime pager
// is impractical to fake.
package azurekv

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// ConfigSchema validates the provider block for this adapter.
const ConfigSchema = `{
	"type": "object",
	"properties": {
		"vault_url": {"type": "string", "minLength": 1},
		"tenant_id": {"type": "string"},
		"client_id": {"type": "string"},
		"client_secret": {"type": "string"}
	},
	"required": ["vault_url"],
	"additionalProperties": false
}`

// Config carries Key Vault connection settings. When the service principal
// fields are empty the default Azure credential chain applies.
type Config struct {
	VaultURL     string `yaml:"vault_url" json:"vault_url"`
	TenantID     string `yaml:"tenant_id" json:"tenant_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
}

// KeyVaultAPI is the subset of the azsecrets client this adapter uses.
type KeyVaultAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	// ListSecretNames drains the properties pager and returns all secret
	// names in the vault.
	ListSecretNames(ctx context.Context) ([]string, error)
}

// realClient adapts *azsecrets.Client to KeyVaultAPI.
type realClient struct {
	client *azsecrets.Client
}

func (c *realClient) GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	return c.client.GetSecret(ctx, name, version, options)
}

func (c *realClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	return c.client.SetSecret(ctx, name, parameters, options)
}

func (c *realClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	return c.client.DeleteSecret(ctx, name, options)
}

func (c *realClient) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	pager := c.client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			if item.ID != nil {
				names = append(names, item.ID.Name())
			}
		}
	}
	return names, nil
}

// Provider exposes Key Vault secrets behind the provider contract.
type Provider struct {
	cfg     Config
	client  KeyVaultAPI
	secrets *secretStore
}

// New builds a provider with a real azsecrets client.
func New(cfg Config) (*Provider, error) {
	if cfg.VaultURL == "" {
		return nil, provider.NewError(provider.CodeInvalidConfig, "azure", "init",
			"vault_url is required", nil)
	}

	var client *azsecrets.Client
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		sp, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("create service principal credential: %w", err)
		}
		client, err = azsecrets.NewClient(cfg.VaultURL, sp, nil)
		if err != nil {
			return nil, fmt.Errorf("create key vault client: %w", err)
		}
	} else {
		def, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create default credential: %w", err)
		}
		client, err = azsecrets.NewClient(cfg.VaultURL, def, nil)
		if err != nil {
			return nil, fmt.Errorf("create key vault client: %w", err)
		}
	}
	return NewWithClient(cfg, &realClient{client: client}), nil
}

// NewWithClient builds a provider on a caller-supplied client.
func NewWithClient(cfg Config, client KeyVaultAPI) *Provider {
	return &Provider{
		cfg:     cfg,
		client:  client,
		secrets: &secretStore{client: client},
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          "azure",
		Version:       "1.0.0",
		Description:   "Azure Key Vault secrets",
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
	if _, err := p.client.ListSecretNames(ctx); err != nil {
		return mapError(err, "init", p.cfg.VaultURL)
	}
	return nil
}

func (p *Provider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	if _, err := p.client.ListSecretNames(ctx); err != nil {
		return provider.HealthReport{
			State:        provider.HealthUnhealthy,
			Detail:       err.Error(),
			Capabilities: p.Capabilities(),
		}, mapError(err, "provider.health", p.cfg.VaultURL)
	}
	return provider.HealthReport{
		State:        provider.HealthHealthy,
		Capabilities: p.Capabilities(),
	}, nil
}

func (p *Provider) Shutdown(ctx *provider.Context) error { return nil }

func (p *Provider) KMS() provider.KMS                     { return nil }
func (p *Provider) SecretStore() provider.SecretStore     { return p.secrets }
func (p *Provider) BlobStorage() provider.BlobStorage     { return nil }
func (p *Provider) Queue() provider.Queue                 { return nil }
func (p *Provider) MetadataStore() provider.MetadataStore { return nil }
