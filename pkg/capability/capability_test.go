package capability_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
)

func fullQueueSet() capability.Set {
	return capability.Set{
		Queue: &capability.Queue{
			Enqueue:          true,
			Dequeue:          true,
			Ack:              true,
			ChangeVisibility: true,
		},
	}
}

func TestHas(t *testing.T) {
	t.Parallel()

	set := capability.Set{
		KMS:         &capability.KMS{Encrypt: true, Decrypt: true, GenerateDataKey: true},
		SecretStore: &capability.SecretStore{Get: true, Put: true, Versioning: true},
	}

	tests := []struct {
		name string
		cap  string
		want bool
	}{
		{"declared_true", "kms.encrypt", true},
		{"declared_false", "kms.rotateKey", false},
		{"absent_group", "queue.fifo", false},
		{"unknown_operation", "kms.sign", false},
		{"unknown_service", "timeseries.write", false},
		{"bare_service_present", "kms", true},
		{"bare_service_absent", "blobStorage", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, set.Has(tt.cap))
		})
	}
}

func TestRequire(t *testing.T) {
	t.Parallel()

	set := fullQueueSet()

	require.NoError(t, capability.Require(set, "queue.ack"))

	err := capability.Require(set, "queue.fifo")
	require.Error(t, err)

	var unsupported *capability.UnsupportedError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "queue.fifo", unsupported.Capability)
	assert.Contains(t, err.Error(), "queue.fifo")
}

func TestRequireAbsentGroup(t *testing.T) {
	t.Parallel()

	err := capability.Require(capability.Set{}, "queue.fifo")

	var unsupported *capability.UnsupportedError
	require.True(t, errors.As(err, &unsupported))
}

func TestUnsupported(t *testing.T) {
	t.Parallel()

	set := capability.Set{
		SecretStore:   &capability.SecretStore{Get: true, Put: true},
		MetadataStore: &capability.MetadataStore{Get: true, CompareAndSwap: true},
	}

	required := []string{"secretStore.get", "secretStore.delete", "metadataStore.compareAndSwap", "queue.enqueue"}
	missing := capability.Unsupported(required, set)

	assert.Equal(t, []string{"secretStore.delete", "queue.enqueue"}, missing)

	assert.Nil(t, capability.Unsupported([]string{"secretStore.get"}, set))
	assert.Nil(t, capability.Unsupported(nil, set))
}
