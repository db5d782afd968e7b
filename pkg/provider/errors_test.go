package provider_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumwheel/ragnos-vault/pkg/capability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

func TestRetryabilityTable(t *testing.T) {
	t.Parallel()

	retryable := []provider.Code{
		provider.CodeThrottled,
		provider.CodeTransientNetwork,
		provider.CodeDeadlineExceeded,
	}
	nonRetryable := []provider.Code{
		provider.CodeInvalidConfig,
		provider.CodeAuthFailure,
		provider.CodePermissionDenied,
		provider.CodeNotFound,
		provider.CodeAlreadyExists,
		provider.CodeQuotaExceeded,
		provider.CodeUnsupportedCapability,
		provider.CodeDataIntegrity,
		provider.CodeInternal,
	}

	for _, code := range retryable {
		assert.True(t, code.Retryable(), "%s should be retryable", code)
	}
	for _, code := range nonRetryable {
		assert.False(t, code.Retryable(), "%s should not be retryable", code)
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := provider.NewError(provider.CodeTransientNetwork, "memory", "queue.dequeue", "backend unavailable", cause)

	assert.Equal(t, provider.CodeTransientNetwork, err.Code)
	assert.True(t, err.Retryable())
	assert.Equal(t, "*errors.errorString", err.CauseType)
	assert.False(t, err.Timestamp.IsZero())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TRANSIENT_NETWORK")
	assert.Contains(t, err.Error(), "memory")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	typed := provider.NewError(provider.CodeNotFound, "memory", "secretStore.get", "no such secret", nil)
	wrapped := fmt.Errorf("resolving: %w", typed)
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(wrapped))

	capErr := &capability.UnsupportedError{Capability: "queue.fifo"}
	assert.Equal(t, provider.CodeUnsupportedCapability, provider.CodeOf(capErr))

	assert.Equal(t, provider.CodeDeadlineExceeded, provider.CodeOf(provider.ErrDeadlineExceeded))
	assert.Equal(t, provider.CodeInternal, provider.CodeOf(errors.New("anything else")))

	require.False(t, provider.IsRetryable(typed))
	require.True(t, provider.IsRetryable(provider.ErrDeadlineExceeded))
}
