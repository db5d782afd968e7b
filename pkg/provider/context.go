package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Clock is the time source every deadline computation runs against. Provider
// code must never read the wall clock directly; tests inject virtual time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock backed Clock used outside of tests.
func SystemClock() Clock { return systemClock{} }

// Metrics is the per-call metrics hook carried by a Context. The prometheus
// backed implementation lives in internal/observability.
type Metrics interface {
	IncCounter(name string, labels ...string)
	ObserveDuration(name string, d time.Duration, labels ...string)
}

// Principal identifies the authenticated user on whose behalf a call runs.
// Populated by the API layer's auth middleware before the core is invoked.
type Principal struct {
	ID    string
	Name  string
	Roles []string
}

// Context is the per-call envelope passed to every provider operation. It
// carries tenant identity, observability hooks, a testable time source, and
// an optional deadline. Values are immutable after Build; derivation returns
// a new Context so concurrent holders of a parent are unaffected.
//
// *Context implements context.Context, so it can be handed directly to SDK
// calls. Cancellation is cooperative: Done fires only for the abort signal of
// the parent context, while deadlines are checked against the injected Clock
// at operation entry and before suspension points.
type Context struct {
	base          context.Context
	tenantID      string
	region        string
	logger        *zap.Logger
	tracer        trace.Tracer
	metrics       Metrics
	clock         Clock
	config        map[string]any
	requestID     string
	correlationID string
	deadline      *time.Time
	user          *Principal
}

// TenantID returns the tenant this call is isolated to. Never empty.
func (c *Context) TenantID() string { return c.tenantID }

// Region returns the optional region hint.
func (c *Context) Region() string { return c.region }

// Logger returns the structured logger. Never nil.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Tracer returns the tracer. Never nil.
func (c *Context) Tracer() trace.Tracer { return c.tracer }

// Metrics returns the metrics hook. Never nil.
func (c *Context) Metrics() Metrics { return c.metrics }

// Clock returns the time source.
func (c *Context) Clock() Clock { return c.clock }

// Config returns call-scoped configuration. Callers must treat it as
// read-only.
func (c *Context) Config() map[string]any { return c.config }

// RequestID returns the request identifier, generated when not supplied.
func (c *Context) RequestID() string { return c.requestID }

// CorrelationID returns the cross-call correlation identifier, if any.
func (c *Context) CorrelationID() string { return c.correlationID }

// User returns the calling principal, or nil for system-initiated calls.
func (c *Context) User() *Principal { return c.user }

// Deadline implements context.Context.
func (c *Context) Deadline() (time.Time, bool) {
	if c.deadline == nil {
		return time.Time{}, false
	}
	return *c.deadline, true
}

// Done implements context.Context. The channel fires on the abort signal of
// the parent context only; deadline expiry is observed through Err and
// IsExpired against the injected Clock.
func (c *Context) Done() <-chan struct{} { return c.base.Done() }

// Err implements context.Context.
func (c *Context) Err() error {
	if err := c.base.Err(); err != nil {
		return err
	}
	if c.IsExpired() {
		return context.DeadlineExceeded
	}
	return nil
}

// Value implements context.Context.
func (c *Context) Value(key any) any { return c.base.Value(key) }

// IsExpired reports whether the deadline has passed according to the Clock.
// A Context without a deadline never expires.
func (c *Context) IsExpired() bool {
	return c.deadline != nil && !c.clock.Now().Before(*c.deadline)
}

// Remaining returns the time left before the deadline. The second return is
// false when no deadline is set. An expired deadline yields zero.
func (c *Context) Remaining() (time.Duration, bool) {
	if c.deadline == nil {
		return 0, false
	}
	d := c.deadline.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// CheckExpired returns ErrDeadlineExceeded if the deadline has passed.
// Providers call it at entry and before each suspension point.
func (c *Context) CheckExpired() error {
	if c.IsExpired() {
		return ErrDeadlineExceeded
	}
	return nil
}

// WithDeadline derives a new Context whose deadline is t, or the existing
// deadline if that is earlier. The receiver is not mutated.
func (c *Context) WithDeadline(t time.Time) *Context {
	derived := *c
	if c.deadline != nil && c.deadline.Before(t) {
		return &derived
	}
	derived.deadline = &t
	return &derived
}

// WithTimeout derives a new Context whose deadline is d from now per the
// injected Clock.
func (c *Context) WithTimeout(d time.Duration) *Context {
	return c.WithDeadline(c.clock.Now().Add(d))
}

// Builder assembles a Context, validating that the required fields are set.
// TenantID, Logger, Tracer, and Metrics are mandatory: observability must be
// wired before any provider call is made.
type Builder struct {
	ctx Context
}

// NewBuilder starts a Context for the given tenant.
func NewBuilder(tenantID string) *Builder {
	return &Builder{ctx: Context{tenantID: tenantID}}
}

// Parent sets the abort-signal parent. Defaults to context.Background().
func (b *Builder) Parent(parent context.Context) *Builder {
	b.ctx.base = parent
	return b
}

// Logger sets the structured logger (required).
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.ctx.logger = l
	return b
}

// Tracer sets the tracer (required).
func (b *Builder) Tracer(t trace.Tracer) *Builder {
	b.ctx.tracer = t
	return b
}

// Metrics sets the metrics hook (required).
func (b *Builder) Metrics(m Metrics) *Builder {
	b.ctx.metrics = m
	return b
}

// Clock sets the time source. Defaults to SystemClock.
func (b *Builder) Clock(c Clock) *Builder {
	b.ctx.clock = c
	return b
}

// Region sets the optional region hint.
func (b *Builder) Region(region string) *Builder {
	b.ctx.region = region
	return b
}

// Config sets call-scoped configuration.
func (b *Builder) Config(cfg map[string]any) *Builder {
	b.ctx.config = cfg
	return b
}

// RequestID sets the request identifier. Generated when left empty.
func (b *Builder) RequestID(id string) *Builder {
	b.ctx.requestID = id
	return b
}

// CorrelationID sets the correlation identifier.
func (b *Builder) CorrelationID(id string) *Builder {
	b.ctx.correlationID = id
	return b
}

// Deadline sets an absolute deadline.
func (b *Builder) Deadline(t time.Time) *Builder {
	b.ctx.deadline = &t
	return b
}

// User sets the calling principal.
func (b *Builder) User(u *Principal) *Builder {
	b.ctx.user = u
	return b
}

// Build validates and returns the immutable Context.
func (b *Builder) Build() (*Context, error) {
	var missing []string
	if b.ctx.tenantID == "" {
		missing = append(missing, "tenantId")
	}
	if b.ctx.logger == nil {
		missing = append(missing, "logger")
	}
	if b.ctx.tracer == nil {
		missing = append(missing, "tracer")
	}
	if b.ctx.metrics == nil {
		missing = append(missing, "metrics")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("provider context: missing required field(s): %s", strings.Join(missing, ", "))
	}

	ctx := b.ctx
	if ctx.base == nil {
		ctx.base = context.Background()
	}
	if ctx.clock == nil {
		ctx.clock = SystemClock()
	}
	if ctx.requestID == "" {
		ctx.requestID = uuid.NewString()
	}
	return &ctx, nil
}
