package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/internal/observability"
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// Start launches the background health loop. The loop runs on a fixed
// interval independent of request traffic until Stop or Shutdown.
func (r *Registry) Start(ctx *provider.Context) {
	r.mu.Lock()
	if r.loopCancel != nil || r.closed {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	r.loopCancel = cancel
	r.loopDone = make(chan struct{})
	done := r.loopDone
	r.mu.Unlock()

	go r.runHealthLoop(loopCtx, ctx, done)
}

// Stop halts the health loop and waits for any in-flight probe round to
// finish. Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.loopCancel
	done := r.loopDone
	r.loopCancel = nil
	r.loopDone = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Registry) runHealthLoop(loopCtx context.Context, probeCtx *provider.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			r.probeAll(probeCtx)
		}
	}
}

// probeAll runs one health round over a snapshot of the instance table.
func (r *Registry) probeAll(ctx *provider.Context) {
	r.mu.RLock()
	snapshot := make(map[string]*Instance, len(r.instances))
	for name, inst := range r.instances {
		snapshot[name] = inst
	}
	r.mu.RUnlock()

	for name, inst := range snapshot {
		r.probe(ctx, name, inst)
	}
}

// probe runs a single health check and applies its outcome to the
// instance's breaker state. Probe errors are logged, never propagated.
func (r *Registry) probe(ctx *provider.Context, name string, inst *Instance) {
	start := r.clock.Now()
	report, err := inst.provider.Health(ctx)
	now := r.clock.Now()

	if r.metrics != nil {
		r.metrics.HealthCheckDuration.WithLabelValues(name).Observe(now.Sub(start).Seconds())
	}

	if err != nil || report.State == provider.HealthUnhealthy {
		opened := inst.recordFailure(r.maxFailures, now)
		r.logger.Warn("health probe failed",
			zap.String("provider", name),
			zap.Int("failureCount", inst.FailureCount()),
			zap.Error(err))
		if opened {
			r.breakerOpened(name)
		}
	} else {
		closed := inst.recordSuccess(report.State, now)
		if closed {
			r.logger.Info("circuit breaker closed",
				zap.String("provider", name))
			r.countTransition(name, "close")
		}
	}

	if r.metrics != nil {
		r.metrics.ProviderStatus.WithLabelValues(name).Set(observability.StatusValue(string(inst.Status())))
	}
}

// breakerOpened logs the open transition and arms the half-open timer. The
// timer only logs; the next healthy probe alone closes the breaker.
func (r *Registry) breakerOpened(name string) {
	r.logger.Warn("circuit breaker opened",
		zap.String("provider", name),
		zap.Duration("halfOpenAfter", r.breakerTimeout))
	r.countTransition(name, "open")

	logger := r.logger
	time.AfterFunc(r.breakerTimeout, func() {
		logger.Info("circuit breaker half-open, awaiting next probe",
			zap.String("provider", name))
	})
}

func (r *Registry) countTransition(name, transition string) {
	if r.metrics != nil {
		r.metrics.BreakerTransitions.WithLabelValues(name, transition).Inc()
	}
}
