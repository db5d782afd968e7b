// Package provider defines the core contract for ragnos-vault backends.
//
// A Provider is a backend implementation of one or more capability
// interfaces (KMS, SecretStore, BlobStorage, Queue, MetadataStore) behind a
// common lifecycle. The registry owns provider instances and routes tenant
// calls to them; callers never construct providers directly in production.
//
// # Lifecycle
//
// Each instance moves through uninitialized → initializing → ready, with
// health probes oscillating the observed status while ready, and ends in the
// terminal shutdown state:
//
//   - Init must complete or fail within the caller-supplied deadline.
//   - Health returns a status plus a self-reported capability snapshot, used
//     to detect capability drift after initialization.
//   - Shutdown is idempotent and releases all resources.
//
// # Implementing a provider
//
// Implementations must be safe for concurrent use. Capability accessors
// return nil for services the provider does not implement; the declared
// capability set and the accessors must agree; the registry and the chaos
// decorator trust the flags for routing and wrapping decisions.
//
// Providers must never log secret values; wrap anything sensitive in
// logging.Secret before it can reach a log line.
package provider

import (
	"github.com/plumwheel/ragnos-vault/pkg/capability"
)

// Info is the immutable identity of a provider, set once at construction.
type Info struct {
	// Name is the stable lowercase identifier, e.g. "memory", "aws",
	// "gcp.secretmanager".
	Name string
	// Version is the provider's semantic version.
	Version string
	// Description is a one-line human readable summary.
	Description string
	// SDKAPIVersion is the contract version the provider was built against.
	SDKAPIVersion string
}

// HealthState is a provider's self-reported condition.
type HealthState string

const (
	HealthInitializing HealthState = "initializing"
	HealthHealthy      HealthState = "healthy"
	HealthDegraded     HealthState = "degraded"
	HealthUnhealthy    HealthState = "unhealthy"
)

// HealthReport is the result of a health probe. Capabilities is the
// provider's current capability snapshot; the registry compares it against
// the declaration made at registration to detect drift.
type HealthReport struct {
	State        HealthState
	Detail       string
	Capabilities capability.Set
}

// Provider is the base lifecycle contract every backend implements.
type Provider interface {
	// Info returns the provider's immutable identity.
	Info() Info

	// Capabilities returns the provider's declared capability set. The
	// declaration is static; it is never inferred from behavior at runtime.
	Capabilities() capability.Set

	// Init prepares the provider for use. It must honor ctx's deadline and
	// abort signal; the registry invokes it under a bounded deadline derived
	// from the registration's initialization timeout.
	Init(ctx *Context) error

	// Health probes the backend and reports current state plus a capability
	// snapshot. Called by the registry's health loop independent of request
	// traffic.
	Health(ctx *Context) (HealthReport, error)

	// Shutdown releases all resources. Idempotent; best-effort during
	// unregister and registry shutdown.
	Shutdown(ctx *Context) error

	// KMS returns the key-management interface, or nil when the kms
	// capability group is not declared.
	KMS() KMS

	// SecretStore returns the secret storage interface, or nil.
	SecretStore() SecretStore

	// BlobStorage returns the object storage interface, or nil.
	BlobStorage() BlobStorage

	// Queue returns the message queue interface, or nil.
	Queue() Queue

	// MetadataStore returns the metadata key-value interface, or nil.
	MetadataStore() MetadataStore
}
