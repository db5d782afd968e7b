package registry

import (
	"sync"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Instance is a live provider owned by the registry. Health probes and
// routing decisions for the same instance can interleave, so all mutable
// state sits behind one mutex.
type Instance struct {
	provider     provider.Provider
	registration Registration

	mu              sync.Mutex
	status          provider.HealthState
	lastHealthCheck time.Time
	failureCount    int
	breakerOpen     bool
}

// Provider returns the wrapped provider.
func (i *Instance) Provider() provider.Provider { return i.provider }

// Registration returns the registration this instance was created from.
func (i *Instance) Registration() Registration { return i.registration }

// Status returns the last observed health state.
func (i *Instance) Status() provider.HealthState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// LastHealthCheck returns when the instance was last probed.
func (i *Instance) LastHealthCheck() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastHealthCheck
}

// FailureCount returns the consecutive probe failure count. It is capped
// at the registry's max failures; once the breaker is open the boolean
// alone drives routing.
func (i *Instance) FailureCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failureCount
}

// BreakerOpen reports whether routing currently excludes this instance.
// The flag clears only on an observed healthy probe, never on elapsed time
// alone.
func (i *Instance) BreakerOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.breakerOpen
}

// recordSuccess applies a healthy probe: failure count resets and an open
// breaker closes. Reports whether the breaker transitioned.
func (i *Instance) recordSuccess(state provider.HealthState, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.status = state
	i.lastHealthCheck = at
	i.failureCount = 0
	wasOpen := i.breakerOpen
	i.breakerOpen = false
	return wasOpen
}

// recordFailure applies a failed probe. The failure count saturates at
// maxFailures; reaching it opens the breaker. Reports whether the breaker
// transitioned.
func (i *Instance) recordFailure(maxFailures int, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.status = provider.HealthUnhealthy
	i.lastHealthCheck = at
	if i.failureCount < maxFailures {
		i.failureCount++
	}
	if i.failureCount >= maxFailures && !i.breakerOpen {
		i.breakerOpen = true
		return true
	}
	return false
}
