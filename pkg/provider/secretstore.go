package provider

import "time"

// SecretStore is the secret storage capability contract.
//
// Mutating calls accept an IdempotencyKey which the provider passes through
// to its backend unchanged; deduplication of retried requests is the
// backend's responsibility. Conditional writes express optimistic
// concurrency: a failed precondition is reported in the result together with
// the current version rather than as an error, so the caller can decide to
// retry or abort. List results carry an opaque NextToken; its absence means
// the listing is complete.
type SecretStore interface {
	// GetSecret returns a secret value. An empty Version requests latest.
	GetSecret(ctx *Context, req GetSecretRequest) (Secret, error)

	// PutSecret creates a secret or adds a new version to an existing one.
	PutSecret(ctx *Context, req PutSecretRequest) (PutSecretResult, error)

	// DeleteSecret removes a secret and all of its versions.
	DeleteSecret(ctx *Context, req DeleteSecretRequest) error

	// ListSecrets pages through secret names under an optional prefix.
	ListSecrets(ctx *Context, req ListSecretsRequest) (SecretList, error)
}

// GetSecretRequest addresses one secret, optionally at a specific version.
type GetSecretRequest struct {
	Name    string
	Version string
}

// Secret is a retrieved secret value with its version metadata.
type Secret struct {
	Name      string
	Value     []byte
	Version   string
	CreatedAt time.Time
	Tags      map[string]string
}

// PutSecretRequest writes a secret value.
//
// IfMatch, when non-empty, requires the current latest version to equal it.
// IfNoneMatch requires that the secret does not yet exist. At most one of
// the two may be set.
type PutSecretRequest struct {
	Name           string
	Value          []byte
	Tags           map[string]string
	IdempotencyKey string
	IfMatch        string
	IfNoneMatch    bool
}

// PutSecretResult reports the written version, or on a failed precondition
// the version currently stored.
type PutSecretResult struct {
	Name    string
	Version string
	// PreconditionFailed is true when IfMatch/IfNoneMatch was not satisfied.
	// Version then holds the current stored version and nothing was written.
	PreconditionFailed bool
}

// DeleteSecretRequest removes a secret.
type DeleteSecretRequest struct {
	Name           string
	IdempotencyKey string
}

// ListSecretsRequest pages secret names.
type ListSecretsRequest struct {
	Prefix    string
	NextToken string
	// MaxResults bounds the page size; provider default when zero.
	MaxResults int
}

// SecretList is one page of secret names. NextToken is empty on the final
// page.
type SecretList struct {
	Names     []string
	NextToken string
}
