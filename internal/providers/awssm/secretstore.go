package awssm

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// secretStore maps the SecretStore contract onto Secrets Manager. Versions
// are the AWS version IDs; an empty version resolves AWSCURRENT. The
// IdempotencyKey becomes the ClientRequestToken, which Secrets Manager
// deduplicates server-side.
type secretStore struct {
	client SecretsManagerAPI
}

func (s *secretStore) GetSecret(ctx *provider.Context, req provider.GetSecretRequest) (provider.Secret, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(req.Name)}
	if req.Version != "" {
		input.VersionId = aws.String(req.Version)
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return provider.Secret{}, mapError(err, "aws", "secrets.get", req.Name)
	}

	var value []byte
	switch {
	case out.SecretBinary != nil:
		value = out.SecretBinary
	case out.SecretString != nil:
		value = []byte(*out.SecretString)
	}

	secret := provider.Secret{
		Name:  req.Name,
		Value: value,
	}
	if out.VersionId != nil {
		secret.Version = *out.VersionId
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = *out.CreatedDate
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

	input := &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(req.Name),
		SecretBinary: req.Value,
	}
	if req.IdempotencyKey != "" {
		input.ClientRequestToken = aws.String(req.IdempotencyKey)
	}

	out, err := s.client.PutSecretValue(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return s.create(ctx, req)
		}
		return provider.PutSecretResult{}, mapError(err, "aws", "secrets.put", req.Name)
	}

	res := provider.PutSecretResult{Name: req.Name}
	if out.VersionId != nil {
		res.Version = *out.VersionId
	}
	return res, nil
}

func (s *secretStore) createOnly(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	res, err := s.create(ctx, req)
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

func (s *secretStore) create(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(req.Name),
		SecretBinary: req.Value,
	}
	if req.IdempotencyKey != "" {
		input.ClientRequestToken = aws.String(req.IdempotencyKey)
	}
	for k, v := range req.Tags {
		input.Tags = append(input.Tags, smtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	out, err := s.client.CreateSecret(ctx, input)
	if err != nil {
		return provider.PutSecretResult{}, mapError(err, "aws", "secrets.put", req.Name)
	}

	res := provider.PutSecretResult{Name: req.Name}
	if out.VersionId != nil {
		res.Version = *out.VersionId
	}
	return res, nil
}

// currentVersion resolves the version ID holding the AWSCURRENT stage.
func (s *secretStore) currentVersion(ctx *provider.Context, name string) (string, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	if err != nil {
		return "", mapError(err, "aws", "secrets.put", name)
	}
	for versionID, stages := range out.VersionIdsToStages {
		for _, stage := range stages {
			if stage == "AWSCURRENT" {
				return versionID, nil
			}
		}
	}
	return "", nil
}

func (s *secretStore) DeleteSecret(ctx *provider.Context, req provider.DeleteSecretRequest) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(req.Name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		return mapError(err, "aws", "secrets.delete", req.Name)
	}
	return nil
}

func (s *secretStore) ListSecrets(ctx *provider.Context, req provider.ListSecretsRequest) (provider.SecretList, error) {
	input := &secretsmanager.ListSecretsInput{}
	if req.MaxResults > 0 {
		input.MaxResults = aws.Int32(int32(req.MaxResults))
	}
	if req.NextToken != "" {
		input.NextToken = aws.String(req.NextToken)
	}
	if req.Prefix != "" {
		input.Filters = []smtypes.Filter{{
			Key:    smtypes.FilterNameStringTypeName,
			Values: []string{req.Prefix},
		}}
	}

	out, err := s.client.ListSecrets(ctx, input)
	if err != nil {
		return provider.SecretList{}, mapError(err, "aws", "secrets.list", req.Prefix)
	}

	list := provider.SecretList{}
	for _, entry := range out.SecretList {
		if entry.Name != nil {
			list.Names = append(list.Names, *entry.Name)
		}
	}
	if out.NextToken != nil {
		list.NextToken = *out.NextToken
	}
	return list, nil
}
