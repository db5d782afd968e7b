// Package audit records who did what against which provider. Recording is
// fire-and-forget: callers never block on the sink, and events are dropped
// with a counter bump when the buffer is full, so a slow sink cannot stall
// the request path.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/internal/observability"
)

// Event is one audit record.
type Event struct {
	Time     time.Time         `json:"time"`
	TenantID string            `json:"tenantId"`
	Actor    string            `json:"actor,omitempty"`
	Op       string            `json:"op"`
	Resource string            `json:"resource,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Outcome  string            `json:"outcome"`
	Code     string            `json:"code,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
}

// Sink receives events one at a time from the recorder goroutine.
type Sink interface {
	Write(event Event) error
}

// LogSink writes events to the structured log at info level.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Write(event Event) error {
	fields := []zap.Field{
		zap.Time("time", event.Time),
		zap.String("tenantId", event.TenantID),
		zap.String("op", event.Op),
		zap.String("outcome", event.Outcome),
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	if event.Resource != "" {
		fields = append(fields, zap.String("resource", event.Resource))
	}
	if event.Provider != "" {
		fields = append(fields, zap.String("provider", event.Provider))
	}
	if event.Code != "" {
		fields = append(fields, zap.String("code", event.Code))
	}
	for k, v := range event.Detail {
		fields = append(fields, zap.String("detail."+k, v))
	}
	s.Logger.Info("audit", fields...)
	return nil
}

// DefaultBufferSize is the recorder's channel capacity.
const DefaultBufferSize = 1024

// Recorder drains events to a sink on its own goroutine.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	events chan Event
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Option tunes a Recorder.
type Option func(*Recorder)

// WithBufferSize overrides the channel capacity.
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		r.events = make(chan Event, n)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics attaches the dropped-event counter.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder starts the drain goroutine.
func NewRecorder(sink Sink, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		events: make(chan Event, DefaultBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for event := range r.events {
		if err := r.sink.Write(event); err != nil {
			r.logger.Warn("audit sink write failed", zap.Error(err), zap.String("op", event.Op))
		}
	}
}

// Record queues an event without blocking. A zero Time is stamped here so
// drops and slow drains do not skew the recorded time.
func (r *Recorder) Record(event Event) {
	if event.Time.IsZero() {
		event.Time = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- event:
	default:
		if r.metrics != nil {
			r.metrics.AuditDropped.Inc()
		}
		r.logger.Warn("audit event dropped, buffer full",
			zap.String("op", event.Op),
			zap.String("tenantId", event.TenantID))
	}
}

// Close stops intake, flushes buffered events and waits for the drain
// goroutine to finish.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.events)
		<-r.done
	})
}
