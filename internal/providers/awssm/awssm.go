// Package awssm adapts AWS to the provider contract: Secrets Manager for
// secret storage, KMS for key management and SSM Parameter Store for the
// metadata store. SDK clients sit behind narrow interfaces so tests can
// substitute fakes without network access.
package awssm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// ConfigSchema validates the provider block for this adapter.
const ConfigSchema = `{
	"type": "object",
	"properties": {
		"region": {"type": "string", "minLength": 1},
		"endpoint": {"type": "string"},
		"access_key_id": {"type": "string"},
		"secret_access_key": {"type": "string"},
		"kms_key_id": {"type": "string"}
	},
	"additionalProperties": false
}`

// Config carries AWS connection settings. Endpoint and static credentials
// exist for LocalStack and tests; production deployments rely on the default
// credential chain.
type Config struct {
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	// KMSKeyID is the default key for KMS operations that omit a key ID.
	KMSKeyID string `yaml:"kms_key_id" json:"kms_key_id"`
}

// SecretsManagerAPI is the subset of the Secrets Manager client this adapter
// uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// KMSAPI is the subset of the KMS client this adapter uses.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// SSMAPI is the subset of the SSM client this adapter uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// Clients bundles the SDK clients the provider runs on.
type Clients struct {
	SecretsManager SecretsManagerAPI
	KMS            KMSAPI
	SSM            SSMAPI
}

// Provider exposes Secrets Manager, KMS and Parameter Store behind the
// provider contract.
type Provider struct {
	cfg      Config
	secrets  *secretStore
	kms      *kmsService
	metadata *metadataStore
	sm       SecretsManagerAPI
}

// New builds a provider with real SDK clients.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clients := Clients{
		SecretsManager: secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		KMS: kms.NewFromConfig(awsCfg, func(o *kms.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		SSM: ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
	}
	return NewWithClients(cfg, clients), nil
}

// NewWithClients builds a provider on caller-supplied clients. Used by tests
// and by LocalStack wiring.
func NewWithClients(cfg Config, clients Clients) *Provider {
	p := &Provider{cfg: cfg, sm: clients.SecretsManager}
	p.secrets = &secretStore{client: clients.SecretsManager}
	p.kms = &kmsService{client: clients.KMS, defaultKeyID: cfg.KMSKeyID}
	p.metadata = &metadataStore{client: clients.SSM}
	return p
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          "aws",
		Version:       "1.0.0",
		Description:   "AWS Secrets Manager, KMS and SSM Parameter Store",
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
	// One cheap authenticated call verifies credentials and reachability.
	_, err := p.sm.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		return mapError(err, "aws", "init", "")
	}
	return nil
}

func (p *Provider) Health(ctx *provider.Context) (provider.HealthReport, error) {
	_, err := p.sm.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		return provider.HealthReport{
			State:        provider.HealthUnhealthy,
			Detail:       err.Error(),
			Capabilities: p.Capabilities(),
		}, mapError(err, "aws", "provider.health", "")
	}
	return provider.HealthReport{
		State:        provider.HealthHealthy,
		Capabilities: p.Capabilities(),
	}, nil
}

func (p *Provider) Shutdown(ctx *provider.Context) error { return nil }

func (p *Provider) KMS() provider.KMS                     { return p.kms }
func (p *Provider) SecretStore() provider.SecretStore     { return p.secrets }
func (p *Provider) BlobStorage() provider.BlobStorage     { return nil }
func (p *Provider) Queue() provider.Queue                 { return nil }
func (p *Provider) MetadataStore() provider.MetadataStore { return p.metadata }
