package redisq

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewWithClient(Config{Addr: mr.Addr()}, client)

	ctx := provider.NewTestContext(t, "tenant-1", nil)
	require.NoError(t, p.Init(ctx))
	t.Cleanup(func() { _ = p.Shutdown(ctx) })
	return p
}

func TestContract(t *testing.T) {
	t.Parallel()

	provider.RunContractTests(t, provider.ContractTest{
		NewProvider: func(t *testing.T) provider.Provider { return testProvider(t) },
	})
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	ctx := provider.NewTestContext(t, "tenant-1", nil)

	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))
}

func TestHealthReflectsConnection(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewWithClient(Config{Addr: mr.Addr()}, client)
	ctx := provider.NewTestContext(t, "tenant-1", nil)

	report, err := p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.HealthHealthy, report.State)

	mr.Close()
	report, err = p.Health(ctx)
	require.Error(t, err)
	assert.Equal(t, provider.HealthUnhealthy, report.State)
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	res, err := queue.Enqueue(ctx, provider.EnqueueRequest{
		Queue:      "jobs",
		Body:       []byte("payload"),
		Attributes: map[string]string{"kind": "rotate"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Sequence)

	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.MessageID, msgs[0].MessageID)
	assert.Equal(t, []byte("payload"), msgs[0].Body)
	assert.Equal(t, map[string]string{"kind": "rotate"}, msgs[0].Attributes)
	assert.Equal(t, 1, msgs[0].Attempts)

	require.NoError(t, queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: msgs[0].ReceiptHandle}))

	clock.Advance(time.Hour)
	after, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestQueueRedeliveryAfterVisibilityTimeout(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("j")})
	require.NoError(t, err)

	first, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, first, 1)

	hidden, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	clock.Advance(2 * time.Minute)
	second, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Attempts)

	// The first delivery's receipt is stale now.
	err = queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: first[0].ReceiptHandle})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestQueueDelayedDelivery(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("later"), Delay: 5 * time.Minute})
	require.NoError(t, err)

	now, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, now)

	clock.Advance(5 * time.Minute)
	ready, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestQueueNackReturnsImmediately(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("j")})
	require.NoError(t, err)
	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Hour})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, queue.Nack(ctx, provider.NackRequest{Queue: "jobs", ReceiptHandle: msgs[0].ReceiptHandle}))

	back, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Len(t, back, 1)
}

func TestMetadataPutGetDelete(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	ctx := provider.NewTestContext(t, "tenant-1", nil)
	meta := p.MetadataStore()

	e1, err := meta.PutEntry(ctx, provider.PutEntryRequest{Key: "cfg", Value: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.Version)

	e2, err := meta.PutEntry(ctx, provider.PutEntryRequest{Key: "cfg", Value: []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Version)

	got, err := meta.GetEntry(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)

	require.NoError(t, meta.DeleteEntry(ctx, provider.DeleteEntryRequest{Key: "cfg"}))
	_, err = meta.GetEntry(ctx, "cfg")
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))

	err = meta.DeleteEntry(ctx, provider.DeleteEntryRequest{Key: "cfg"})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestMetadataCompareAndSwap(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	ctx := provider.NewTestContext(t, "tenant-1", nil)
	meta := p.MetadataStore()

	res, err := meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("a"), ExpectedVersion: 0})
	require.NoError(t, err)
	assert.True(t, res.Swapped)
	assert.Equal(t, int64(1), res.CurrentVersion)

	res, err = meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("b"), ExpectedVersion: 5})
	require.NoError(t, err)
	assert.False(t, res.Swapped)
	assert.Equal(t, int64(1), res.CurrentVersion)

	res, err = meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("b"), ExpectedVersion: 1})
	require.NoError(t, err)
	assert.True(t, res.Swapped)

	got, err := meta.GetEntry(ctx, "leader")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got.Value)
}

func TestMetadataListWithPrefix(t *testing.T) {
	t.Parallel()

	p := testProvider(t)
	ctx := provider.NewTestContext(t, "tenant-1", nil)
	meta := p.MetadataStore()

	for _, key := range []string{"app/a", "app/b", "sys/x"} {
		_, err := meta.PutEntry(ctx, provider.PutEntryRequest{Key: key, Value: []byte("v")})
		require.NoError(t, err)
	}

	list, err := meta.ListEntries(ctx, provider.ListEntriesRequest{Prefix: "app/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/a", "app/b"}, list.Keys)
	assert.Empty(t, list.NextToken)
}
