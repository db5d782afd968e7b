// Package capability defines the capability model for ragnos-vault providers.
//
// A provider declares exactly which operations it implements through a Set of
// nested boolean flags grouped by service. Declarations are static: the
// registry and the chaos decorator trust these flags for routing and wrapping
// decisions, so a provider must never report a flag as true for an operation
// it does not implement.
//
// Capabilities are addressed internally through the structured Set type. The
// dotted "service.operation" string form (for example "queue.fifo" or
// "kms.generateDataKey") exists only at system boundaries: configuration
// files, error messages, and the registry's capability filter.
package capability

import (
	"fmt"
	"strings"
)

// Set declares the operations a provider supports, grouped by service.
// A nil group means the service is entirely unsupported.
type Set struct {
	KMS           *KMS           `yaml:"kms,omitempty" json:"kms,omitempty"`
	SecretStore   *SecretStore   `yaml:"secretStore,omitempty" json:"secretStore,omitempty"`
	BlobStorage   *BlobStorage   `yaml:"blobStorage,omitempty" json:"blobStorage,omitempty"`
	Queue         *Queue         `yaml:"queue,omitempty" json:"queue,omitempty"`
	MetadataStore *MetadataStore `yaml:"metadataStore,omitempty" json:"metadataStore,omitempty"`
	VectorIndex   *VectorIndex   `yaml:"vectorIndex,omitempty" json:"vectorIndex,omitempty"`
	LogSink       *LogSink       `yaml:"logSink,omitempty" json:"logSink,omitempty"`
}

// KMS flags key-management operations.
type KMS struct {
	Encrypt         bool `yaml:"encrypt" json:"encrypt"`
	Decrypt         bool `yaml:"decrypt" json:"decrypt"`
	GenerateDataKey bool `yaml:"generateDataKey" json:"generateDataKey"`
	DescribeKey     bool `yaml:"describeKey" json:"describeKey"`
	RotateKey       bool `yaml:"rotateKey" json:"rotateKey"`
}

// SecretStore flags secret storage operations.
type SecretStore struct {
	Get        bool `yaml:"get" json:"get"`
	Put        bool `yaml:"put" json:"put"`
	Delete     bool `yaml:"delete" json:"delete"`
	List       bool `yaml:"list" json:"list"`
	Versioning bool `yaml:"versioning" json:"versioning"`
	Tagging    bool `yaml:"tagging" json:"tagging"`
}

// BlobStorage flags object storage operations.
type BlobStorage struct {
	Get       bool `yaml:"get" json:"get"`
	Put       bool `yaml:"put" json:"put"`
	Delete    bool `yaml:"delete" json:"delete"`
	List      bool `yaml:"list" json:"list"`
	Multipart bool `yaml:"multipart" json:"multipart"`
}

// Queue flags message queue operations and delivery guarantees.
type Queue struct {
	Enqueue          bool `yaml:"enqueue" json:"enqueue"`
	Dequeue          bool `yaml:"dequeue" json:"dequeue"`
	Ack              bool `yaml:"ack" json:"ack"`
	Delay            bool `yaml:"delay" json:"delay"`
	FIFO             bool `yaml:"fifo" json:"fifo"`
	ChangeVisibility bool `yaml:"changeVisibility" json:"changeVisibility"`
}

// MetadataStore flags key-value metadata operations.
type MetadataStore struct {
	Get            bool `yaml:"get" json:"get"`
	Put            bool `yaml:"put" json:"put"`
	Delete         bool `yaml:"delete" json:"delete"`
	List           bool `yaml:"list" json:"list"`
	CompareAndSwap bool `yaml:"compareAndSwap" json:"compareAndSwap"`
}

// VectorIndex flags vector index operations. Optional service; no core
// capability interface is defined for it yet.
type VectorIndex struct {
	Upsert bool `yaml:"upsert" json:"upsert"`
	Query  bool `yaml:"query" json:"query"`
	Delete bool `yaml:"delete" json:"delete"`
}

// LogSink flags log sink operations. Optional service.
type LogSink struct {
	Write bool `yaml:"write" json:"write"`
	Query bool `yaml:"query" json:"query"`
}

// UnsupportedError reports a capability that a provider does not declare.
// The registry maps it onto the UnsupportedCapability error code.
type UnsupportedError struct {
	// Capability is the dotted "service.operation" name that was required.
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("capability not supported: %s", e.Capability)
}

// Has reports whether the named "service.operation" capability is declared
// true in the set. Unknown names, absent groups, and false flags all return
// false; Has never fails.
func (s Set) Has(name string) bool {
	ok, _ := s.lookup(name)
	return ok
}

// Require fails with an *UnsupportedError if the named capability is absent,
// false, or unknown. Callers use it to fail fast before routing an operation
// to a backend that cannot perform it.
func Require(s Set, name string) error {
	if ok, _ := s.lookup(name); !ok {
		return &UnsupportedError{Capability: name}
	}
	return nil
}

// Unsupported returns the subset of required capability names that the set
// does not satisfy, in the order given. An empty result means every
// requirement is met.
func Unsupported(required []string, available Set) []string {
	var missing []string
	for _, name := range required {
		if !available.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// lookup parses the dotted name once and resolves it against the structured
// flags. The second return distinguishes an unknown name from a declared
// false flag; both count as unsupported.
func (s Set) lookup(name string) (ok, known bool) {
	service, op, found := strings.Cut(name, ".")
	if !found {
		// A bare service name means "any operation on this service".
		return s.hasService(name), s.knownService(name)
	}

	switch service {
	case "kms":
		if s.KMS == nil {
			return false, true
		}
		switch op {
		case "encrypt":
			return s.KMS.Encrypt, true
		case "decrypt":
			return s.KMS.Decrypt, true
		case "generateDataKey":
			return s.KMS.GenerateDataKey, true
		case "describeKey":
			return s.KMS.DescribeKey, true
		case "rotateKey":
			return s.KMS.RotateKey, true
		}
	case "secretStore":
		if s.SecretStore == nil {
			return false, true
		}
		switch op {
		case "get":
			return s.SecretStore.Get, true
		case "put":
			return s.SecretStore.Put, true
		case "delete":
			return s.SecretStore.Delete, true
		case "list":
			return s.SecretStore.List, true
		case "versioning":
			return s.SecretStore.Versioning, true
		case "tagging":
			return s.SecretStore.Tagging, true
		}
	case "blobStorage":
		if s.BlobStorage == nil {
			return false, true
		}
		switch op {
		case "get":
			return s.BlobStorage.Get, true
		case "put":
			return s.BlobStorage.Put, true
		case "delete":
			return s.BlobStorage.Delete, true
		case "list":
			return s.BlobStorage.List, true
		case "multipart":
			return s.BlobStorage.Multipart, true
		}
	case "queue":
		if s.Queue == nil {
			return false, true
		}
		switch op {
		case "enqueue":
			return s.Queue.Enqueue, true
		case "dequeue":
			return s.Queue.Dequeue, true
		case "ack":
			return s.Queue.Ack, true
		case "delay":
			return s.Queue.Delay, true
		case "fifo":
			return s.Queue.FIFO, true
		case "changeVisibility":
			return s.Queue.ChangeVisibility, true
		}
	case "metadataStore":
		if s.MetadataStore == nil {
			return false, true
		}
		switch op {
		case "get":
			return s.MetadataStore.Get, true
		case "put":
			return s.MetadataStore.Put, true
		case "delete":
			return s.MetadataStore.Delete, true
		case "list":
			return s.MetadataStore.List, true
		case "compareAndSwap":
			return s.MetadataStore.CompareAndSwap, true
		}
	case "vectorIndex":
		if s.VectorIndex == nil {
			return false, true
		}
		switch op {
		case "upsert":
			return s.VectorIndex.Upsert, true
		case "query":
			return s.VectorIndex.Query, true
		case "delete":
			return s.VectorIndex.Delete, true
		}
	case "logSink":
		if s.LogSink == nil {
			return false, true
		}
		switch op {
		case "write":
			return s.LogSink.Write, true
		case "query":
			return s.LogSink.Query, true
		}
	}
	return false, false
}

func (s Set) hasService(service string) bool {
	switch service {
	case "kms":
		return s.KMS != nil
	case "secretStore":
		return s.SecretStore != nil
	case "blobStorage":
		return s.BlobStorage != nil
	case "queue":
		return s.Queue != nil
	case "metadataStore":
		return s.MetadataStore != nil
	case "vectorIndex":
		return s.VectorIndex != nil
	case "logSink":
		return s.LogSink != nil
	}
	return false
}

func (s Set) knownService(service string) bool {
	switch service {
	case "kms", "secretStore", "blobStorage", "queue", "metadataStore", "vectorIndex", "logSink":
		return true
	}
	return false
}
