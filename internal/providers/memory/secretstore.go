package memory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

const defaultPageSize = 100

type secretService struct {
	mu      sync.Mutex
	secrets map[string]*secretRecord
}

type secretRecord struct {
	versions []provider.Secret
	tags     map[string]string
}

func newSecretService() *secretService {
	return &secretService{secrets: make(map[string]*secretRecord)}
}

func (s *secretRecord) latest() provider.Secret {
	return s.versions[len(s.versions)-1]
}

func (s *secretService) GetSecret(ctx *provider.Context, req provider.GetSecretRequest) (provider.Secret, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Secret{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.secrets[req.Name]
	if !ok {
		return provider.Secret{}, provider.NewError(provider.CodeNotFound, "memory", "secretStore.get",
			fmt.Sprintf("secret %q not found", req.Name), nil)
	}
	if req.Version == "" {
		return rec.latest(), nil
	}
	for _, v := range rec.versions {
		if v.Version == req.Version {
			return v, nil
		}
	}
	return provider.Secret{}, provider.NewError(provider.CodeNotFound, "memory", "secretStore.get",
		fmt.Sprintf("secret %q has no version %q", req.Name, req.Version), nil)
}

func (s *secretService) PutSecret(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.PutSecretResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.secrets[req.Name]

	// Failed preconditions report the stored version; they are not errors.
	if req.IfNoneMatch && exists {
		return provider.PutSecretResult{
			Name:               req.Name,
			Version:            rec.latest().Version,
			PreconditionFailed: true,
		}, nil
	}
	if req.IfMatch != "" {
		if !exists {
			return provider.PutSecretResult{Name: req.Name, PreconditionFailed: true}, nil
		}
		if rec.latest().Version != req.IfMatch {
			return provider.PutSecretResult{
				Name:               req.Name,
				Version:            rec.latest().Version,
				PreconditionFailed: true,
			}, nil
		}
	}

	if !exists {
		rec = &secretRecord{}
		s.secrets[req.Name] = rec
	}
	if req.Tags != nil {
		rec.tags = req.Tags
	}
	version := strconv.Itoa(len(rec.versions) + 1)
	value := make([]byte, len(req.Value))
	copy(value, req.Value)
	rec.versions = append(rec.versions, provider.Secret{
		Name:      req.Name,
		Value:     value,
		Version:   version,
		CreatedAt: time.Now(),
		Tags:      rec.tags,
	})
	return provider.PutSecretResult{Name: req.Name, Version: version}, nil
}

func (s *secretService) DeleteSecret(ctx *provider.Context, req provider.DeleteSecretRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[req.Name]; !ok {
		return provider.NewError(provider.CodeNotFound, "memory", "secretStore.delete",
			fmt.Sprintf("secret %q not found", req.Name), nil)
	}
	delete(s.secrets, req.Name)
	return nil
}

func (s *secretService) ListSecrets(ctx *provider.Context, req provider.ListSecretsRequest) (provider.SecretList, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.SecretList{}, err
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		if strings.HasPrefix(name, req.Prefix) {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)

	page, next, err := paginate(names, req.NextToken, req.MaxResults)
	if err != nil {
		return provider.SecretList{}, provider.NewError(provider.CodeInvalidConfig, "memory", "secretStore.list", "bad page token", err)
	}
	return provider.SecretList{Names: page, NextToken: next}, nil
}

// paginate slices sorted keys by an index-encoded page token.
func paginate(keys []string, token string, max int) ([]string, string, error) {
	if max <= 0 {
		max = defaultPageSize
	}
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid token %q", token)
		}
		start = n
	}
	if start >= len(keys) {
		return nil, "", nil
	}
	end := start + max
	next := ""
	if end < len(keys) {
		next = strconv.Itoa(end)
	} else {
		end = len(keys)
	}
	return keys[start:end], next, nil
}
