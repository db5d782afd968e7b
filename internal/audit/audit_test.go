package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plumwheel/ragnos-vault/internal/observability"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{}
}

func (s *captureSink) Write(event Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestRecorderDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := NewRecorder(sink, zap.NewNop())

	r.Record(Event{TenantID: "acme", Op: "secrets.get", Outcome: "ok"})
	r.Record(Event{TenantID: "acme", Op: "secrets.put", Outcome: "ok"})
	r.Close()

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "secrets.get", events[0].Op)
	assert.Equal(t, "secrets.put", events[1].Op)
}

func TestRecorderStampsTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	r := NewRecorder(sink, zap.NewNop(), WithClock(func() time.Time { return at }))

	r.Record(Event{Op: "kms.encrypt", Outcome: "ok"})
	r.Close()

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Time)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gate := make(chan struct{})
	sink := &captureSink{gate: gate}
	r := NewRecorder(sink, zap.NewNop(), WithBufferSize(1), WithMetrics(metrics))

	// The drain goroutine blocks on the gated sink; one event fits the
	// buffer and the rest must be dropped.
	for i := 0; i < 5; i++ {
		r.Record(Event{Op: "secrets.get", Outcome: "ok"})
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.AuditDropped), float64(3))

	close(gate)
	r.Close()
}

func TestRecordAfterCloseIsSafe(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := NewRecorder(sink, zap.NewNop())
	r.Close()

	assert.NotPanics(t, func() {
		r.Record(Event{Op: "secrets.get", Outcome: "ok"})
	})
	assert.Len(t, sink.all(), 0)
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRecorder(&captureSink{}, zap.NewNop())
	r.Close()
	assert.NotPanics(t, r.Close)
}
