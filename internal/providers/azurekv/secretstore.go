package azurekv

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// secretStore maps the SecretStore contract onto Key Vault. Versions are Key
// Vault's version strings taken from the secret ID; an empty version resolves
// the current one. Key Vault stores string values, so binary payloads must be
// encoded by the caller.
type secretStore struct {
	client KeyVaultAPI
}

func (s *secretStore) GetSecret(ctx *provider.Context, req provider.GetSecretRequest) (provider.Secret, error) {
	resp, err := s.client.GetSecret(ctx, req.Name, req.Version, nil)
	if err != nil {
		return provider.Secret{}, mapError(err, "secrets.get", req.Name)
	}

	secret := provider.Secret{Name: req.Name}
	if resp.Value != nil {
		secret.Value = []byte(*resp.Value)
	}
	if resp.ID != nil {
		secret.Version = resp.ID.Version()
	}
	if resp.Attributes != nil && resp.Attributes.Created != nil {
		secret.CreatedAt = *resp.Attributes.Created
	}
	if len(resp.Tags) > 0 {
		secret.Tags = make(map[string]string, len(resp.Tags))
		for k, v := range resp.Tags {
			if v != nil {
				secret.Tags[k] = *v
			}
		}
	}
	return secret, nil
}

func (s *secretStore) PutSecret(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	if req.IfNoneMatch || req.IfMatch != "" {
		current, exists, err := s.currentVersion(ctx, req.Name)
		if err != nil {
			return provider.PutSecretResult{}, err
		}
		if req.IfNoneMatch && exists {
			return provider.PutSecretResult{
				Name:               req.Name,
				Version:            current,
				PreconditionFailed: true,
			}, nil
		}
		if req.IfMatch != "" && current != req.IfMatch {
			return provider.PutSecretResult{
				Name:               req.Name,
				Version:            current,
				PreconditionFailed: true,
			}, nil
		}
	}

	params := azsecrets.SetSecretParameters{Value: to.Ptr(string(req.Value))}
	if len(req.Tags) > 0 {
		params.Tags = make(map[string]*string, len(req.Tags))
		for k, v := range req.Tags {
			params.Tags[k] = to.Ptr(v)
		}
	}

	resp, err := s.client.SetSecret(ctx, req.Name, params, nil)
	if err != nil {
		return provider.PutSecretResult{}, mapError(err, "secrets.put", req.Name)
	}

	res := provider.PutSecretResult{Name: req.Name}
	if resp.ID != nil {
		res.Version = resp.ID.Version()
	}
	return res, nil
}

// currentVersion reads the current secret version; a missing secret is not
// an error here.
func (s *secretStore) currentVersion(ctx *provider.Context, name string) (version string, exists bool, err error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		mapped := mapError(err, "secrets.put", name)
		if provider.CodeOf(mapped) == provider.CodeNotFound {
			return "", false, nil
		}
		return "", false, mapped
	}
	if resp.ID != nil {
		version = resp.ID.Version()
	}
	return version, true, nil
}

func (s *secretStore) DeleteSecret(ctx *provider.Context, req provider.DeleteSecretRequest) error {
	if _, err := s.client.DeleteSecret(ctx, req.Name, nil); err != nil {
		return mapError(err, "secrets.delete", req.Name)
	}
	return nil
}

func (s *secretStore) ListSecrets(ctx *provider.Context, req provider.ListSecretsRequest) (provider.SecretList, error) {
	all, err := s.client.ListSecretNames(ctx)
	if err != nil {
		return provider.SecretList{}, mapError(err, "secrets.list", req.Prefix)
	}

	var names []string
	for _, name := range all {
		if req.Prefix == "" || strings.HasPrefix(name, req.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if req.MaxResults > 0 && len(names) > req.MaxResults {
		names = names[:req.MaxResults]
	}
	return provider.SecretList{Names: names}, nil
}

// mapError folds Azure SDK response errors into the shared taxonomy.
func mapError(err error, op, resource string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if resource != "" {
		msg = resource + ": " + err.Error()
	}

	code := provider.CodeInternal
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			code = provider.CodeNotFound
		case http.StatusConflict:
			code = provider.CodeAlreadyExists
		case http.StatusForbidden:
			code = provider.CodePermissionDenied
		case http.StatusUnauthorized:
			code = provider.CodeAuthFailure
		case http.StatusTooManyRequests:
			code = provider.CodeThrottled
		default:
			if respErr.StatusCode >= 500 {
				code = provider.CodeTransientNetwork
			}
		}
	} else {
		code = provider.CodeTransientNetwork
	}
	return provider.NewError(code, "azure", op, msg, err)
}
