package gcpsm

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// secretStore maps the SecretStore contract onto Secret Manager. Versions
// are the numeric version IDs Secret Manager assigns; an empty version
// resolves the "latest" alias. Tags become secret labels at creation time.
type secretStore struct {
	client    SecretManagerAPI
	projectID string
}

func (s *secretStore) secretName(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name)
}

func (s *secretStore) versionName(name, version string) string {
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s/versions/%s", s.secretName(name), version)
}

// versionOf extracts the numeric version from a full resource name.
func versionOf(resourceName string) string {
	if idx := strings.LastIndex(resourceName, "/versions/"); idx != -1 {
		return resourceName[idx+len("/versions/"):]
	}
	return resourceName
}

func (s *secretStore) GetSecret(ctx *provider.Context, req provider.GetSecretRequest) (provider.Secret, error) {
	out, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.versionName(req.Name, req.Version),
	})
	if err != nil {
		return provider.Secret{}, mapError(err, "secrets.get", req.Name)
	}

	secret := provider.Secret{
		Name:    req.Name,
		Version: versionOf(out.Name),
	}
	if out.Payload != nil {
		secret.Value = out.Payload.Data
	}
	return secret, nil
}

func (s *secretStore) PutSecret(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	if req.IfNoneMatch {
		return s.createOnly(ctx, req)
	}
	if req.IfMatch != "" {
		current, err := s.currentVersion(ctx, req.Name)
		if err != nil {
			return provider.PutSecretResult{}, err
		}
		if current != req.IfMatch {
			return provider.PutSecretResult{
				Name:               req.Name,
				Version:            current,
				PreconditionFailed: true,
			}, nil
		}
	}

	version, err := s.addVersion(ctx, req)
	if err != nil {
		if provider.CodeOf(err) == provider.CodeNotFound {
			return s.createAndAdd(ctx, req)
		}
		return provider.PutSecretResult{}, err
	}
	return provider.PutSecretResult{Name: req.Name, Version: version}, nil
}

func (s *secretStore) createOnly(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	res, err := s.createAndAdd(ctx, req)
	if err != nil {
		if provider.CodeOf(err) == provider.CodeAlreadyExists {
			current, verr := s.currentVersion(ctx, req.Name)
			if verr != nil {
				return provider.PutSecretResult{}, verr
			}
			return provider.PutSecretResult{
				Name:               req.Name,
				Version:            current,
				PreconditionFailed: true,
			}, nil
		}
		return provider.PutSecretResult{}, err
	}
	return res, nil
}

func (s *secretStore) createAndAdd(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	create := &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: req.Name,
		Secret: &secretmanagerpb.Secret{
			Labels: req.Tags,
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	}
	if _, err := s.client.CreateSecret(ctx, create); err != nil {
		return provider.PutSecretResult{}, mapError(err, "secrets.put", req.Name)
	}

	version, err := s.addVersion(ctx, req)
	if err != nil {
		return provider.PutSecretResult{}, err
	}
	return provider.PutSecretResult{Name: req.Name, Version: version}, nil
}

func (s *secretStore) addVersion(ctx *provider.Context, req provider.PutSecretRequest) (string, error) {
	out, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(req.Name),
		Payload: &secretmanagerpb.SecretPayload{Data: req.Value},
	})
	if err != nil {
		return "", mapError(err, "secrets.put", req.Name)
	}
	return versionOf(out.Name), nil
}

func (s *secretStore) currentVersion(ctx *provider.Context, name string) (string, error) {
	out, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.versionName(name, "latest"),
	})
	if err != nil {
		return "", mapError(err, "secrets.put", name)
	}
	return versionOf(out.Name), nil
}

func (s *secretStore) DeleteSecret(ctx *provider.Context, req provider.DeleteSecretRequest) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: s.secretName(req.Name),
	})
	if err != nil {
		return mapError(err, "secrets.delete", req.Name)
	}
	return nil
}

// ListSecrets walks the full listing server-side and filters by prefix
// locally; Secret Manager's filter syntax has no prefix operator. The
// iterator consumes server pagination internally, so results come back as a
// single page.
func (s *secretStore) ListSecrets(ctx *provider.Context, req provider.ListSecretsRequest) (provider.SecretList, error) {
	it := s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent: "projects/" + s.projectID,
	})

	var names []string
	for {
		secret, err := it.Next()
		if isIteratorDone(err) {
			break
		}
		if err != nil {
			return provider.SecretList{}, mapError(err, "secrets.list", req.Prefix)
		}
		name := secret.Name
		if idx := strings.LastIndex(name, "/secrets/"); idx != -1 {
			name = name[idx+len("/secrets/"):]
		}
		if req.Prefix == "" || strings.HasPrefix(name, req.Prefix) {
			names = append(names, name)
		}
		if req.MaxResults > 0 && len(names) == req.MaxResults {
			break
		}
	}
	return provider.SecretList{Names: names}, nil
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}

// mapError folds gRPC status codes into the shared taxonomy.
func mapError(err error, op, resource string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if resource != "" {
		msg = resource + ": " + err.Error()
	}

	code := provider.CodeInternal
	switch status.Code(err) {
	case codes.NotFound:
		code = provider.CodeNotFound
	case codes.AlreadyExists:
		code = provider.CodeAlreadyExists
	case codes.PermissionDenied:
		code = provider.CodePermissionDenied
	case codes.Unauthenticated:
		code = provider.CodeAuthFailure
	case codes.ResourceExhausted:
		code = provider.CodeThrottled
	case codes.DeadlineExceeded:
		code = provider.CodeDeadlineExceeded
	case codes.Unavailable, codes.Aborted:
		code = provider.CodeTransientNetwork
	}
	return provider.NewError(code, "gcp", op, msg, err)
}
