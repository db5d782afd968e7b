package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

func TestContract(t *testing.T) {
	t.Parallel()

	provider.RunContractTests(t, provider.ContractTest{
		NewProvider: func(t *testing.T) provider.Provider { return New() },
	})
}

func testCtx(t *testing.T) *provider.Context {
	t.Helper()
	return provider.NewTestContext(t, "tenant-1", nil)
}

func TestSecretVersioning(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	store := p.SecretStore()

	r1, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "db/password", Value: []byte("one")})
	require.NoError(t, err)
	assert.Equal(t, "1", r1.Version)

	r2, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "db/password", Value: []byte("two")})
	require.NoError(t, err)
	assert.Equal(t, "2", r2.Version)

	latest, err := store.GetSecret(ctx, provider.GetSecretRequest{Name: "db/password"})
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), latest.Value)

	v1, err := store.GetSecret(ctx, provider.GetSecretRequest{Name: "db/password", Version: "1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v1.Value)

	_, err = store.GetSecret(ctx, provider.GetSecretRequest{Name: "db/password", Version: "9"})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestSecretPreconditions(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	store := p.SecretStore()

	created, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "token", Value: []byte("a"), IfNoneMatch: true})
	require.NoError(t, err)
	assert.False(t, created.PreconditionFailed)

	// Create-only against an existing secret reports the stored version
	// without writing.
	res, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: "token", Value: []byte("b"), IfNoneMatch: true})
	require.NoError(t, err)
	assert.True(t, res.PreconditionFailed)
	assert.Equal(t, "1", res.Version)

	res, err = store.PutSecret(ctx, provider.PutSecretRequest{Name: "token", Value: []byte("b"), IfMatch: "7"})
	require.NoError(t, err)
	assert.True(t, res.PreconditionFailed)
	assert.Equal(t, "1", res.Version)

	res, err = store.PutSecret(ctx, provider.PutSecretRequest{Name: "token", Value: []byte("b"), IfMatch: "1"})
	require.NoError(t, err)
	assert.False(t, res.PreconditionFailed)
	assert.Equal(t, "2", res.Version)
}

func TestSecretListPagination(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	store := p.SecretStore()

	for _, name := range []string{"app/a", "app/b", "app/c", "infra/x"} {
		_, err := store.PutSecret(ctx, provider.PutSecretRequest{Name: name, Value: []byte("v")})
		require.NoError(t, err)
	}

	page, err := store.ListSecrets(ctx, provider.ListSecretsRequest{Prefix: "app/", MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/a", "app/b"}, page.Names)
	require.NotEmpty(t, page.NextToken)

	page, err = store.ListSecrets(ctx, provider.ListSecretsRequest{Prefix: "app/", MaxResults: 2, NextToken: page.NextToken})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/c"}, page.Names)
	assert.Empty(t, page.NextToken)
}

func TestKMSEncryptionContextBinding(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	kms := p.KMS()

	enc, err := kms.Encrypt(ctx, provider.KMSEncryptRequest{
		Plaintext:         []byte("payload"),
		EncryptionContext: map[string]string{"tenant": "a"},
	})
	require.NoError(t, err)

	dec, err := kms.Decrypt(ctx, provider.KMSDecryptRequest{
		Ciphertext:        enc.Ciphertext,
		EncryptionContext: map[string]string{"tenant": "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), dec.Plaintext)

	_, err = kms.Decrypt(ctx, provider.KMSDecryptRequest{
		Ciphertext:        enc.Ciphertext,
		EncryptionContext: map[string]string{"tenant": "b"},
	})
	assert.Equal(t, provider.CodeDataIntegrity, provider.CodeOf(err))
}

func TestKMSGenerateDataKey(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	kms := p.KMS()

	dek, err := kms.GenerateDataKey(ctx, provider.GenerateDataKeyRequest{})
	require.NoError(t, err)
	assert.Len(t, dek.Plaintext, 32)

	dec, err := kms.Decrypt(ctx, provider.KMSDecryptRequest{Ciphertext: dek.Ciphertext})
	require.NoError(t, err)
	assert.Equal(t, dek.Plaintext, dec.Plaintext)

	info, err := kms.DescribeKey(ctx, dek.KeyID)
	require.NoError(t, err)
	assert.True(t, info.Enabled)
}

func TestMultipartUploadComplete(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	blobs := p.BlobStorage()

	upload, err := blobs.CreateMultipartUpload(ctx, provider.CreateMultipartUploadRequest{Key: "backups/dump"})
	require.NoError(t, err)

	p1, err := blobs.UploadPart(ctx, provider.UploadPartRequest{UploadID: upload.UploadID, PartNumber: 1, Data: []byte("hello ")})
	require.NoError(t, err)
	p2, err := blobs.UploadPart(ctx, provider.UploadPartRequest{UploadID: upload.UploadID, PartNumber: 2, Data: []byte("world")})
	require.NoError(t, err)

	// Nothing retrievable before completion.
	exists, err := blobs.ObjectExists(ctx, "backups/dump")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = blobs.CompleteMultipartUpload(ctx, provider.CompleteMultipartUploadRequest{
		UploadID: upload.UploadID,
		Parts:    []provider.UploadedPart{p1, p2},
	})
	require.NoError(t, err)

	obj, err := blobs.GetObject(ctx, provider.GetObjectRequest{Key: "backups/dump"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), obj.Data)
}

func TestMultipartUploadAbortLeavesNoObject(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	blobs := p.BlobStorage()

	upload, err := blobs.CreateMultipartUpload(ctx, provider.CreateMultipartUploadRequest{Key: "backups/partial"})
	require.NoError(t, err)
	_, err = blobs.UploadPart(ctx, provider.UploadPartRequest{UploadID: upload.UploadID, PartNumber: 1, Data: []byte("part1")})
	require.NoError(t, err)
	_, err = blobs.UploadPart(ctx, provider.UploadPartRequest{UploadID: upload.UploadID, PartNumber: 2, Data: []byte("part2")})
	require.NoError(t, err)

	require.NoError(t, blobs.AbortMultipartUpload(ctx, provider.AbortMultipartUploadRequest{UploadID: upload.UploadID}))

	exists, err := blobs.ObjectExists(ctx, "backups/partial")
	require.NoError(t, err)
	assert.False(t, exists)

	// The upload is gone; completing it afterwards is invalid.
	_, err = blobs.CompleteMultipartUpload(ctx, provider.CompleteMultipartUploadRequest{UploadID: upload.UploadID})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestQueueVisibilityWindow(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("job-1")})
	require.NoError(t, err)

	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Attempts)

	// Hidden while the window is open.
	again, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, again)

	// Unacked past the window, the message comes back with a new handle.
	clock.Advance(2 * time.Minute)
	redelivered, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, msgs[0].MessageID, redelivered[0].MessageID)
	assert.Equal(t, 2, redelivered[0].Attempts)
	assert.NotEqual(t, msgs[0].ReceiptHandle, redelivered[0].ReceiptHandle)
}

func TestQueueAckRemovesPermanently(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("job-1")})
	require.NoError(t, err)

	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: msgs[0].ReceiptHandle}))

	clock.Advance(time.Hour)
	after, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, after)

	// Acking twice with the same handle fails; the delivery is gone.
	err = queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: msgs[0].ReceiptHandle})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestQueueStaleReceiptRejected(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("job-1")})
	require.NoError(t, err)

	first, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(2 * time.Minute)
	second, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, second, 1)

	// Only the most recent delivery's handle acks.
	err = queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: first[0].ReceiptHandle})
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
	assert.NoError(t, queue.Ack(ctx, provider.AckRequest{Queue: "jobs", ReceiptHandle: second[0].ReceiptHandle}))
}

func TestQueueNackAndDelay(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("delayed"), Delay: time.Minute})
	require.NoError(t, err)

	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	clock.Advance(time.Minute)
	msgs, err = queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Hour})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, queue.Nack(ctx, provider.NackRequest{Queue: "jobs", ReceiptHandle: msgs[0].ReceiptHandle}))

	// Nack makes it immediately eligible again.
	msgs, err = queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestQueueChangeVisibility(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock)
	queue := p.Queue()

	_, err := queue.Enqueue(ctx, provider.EnqueueRequest{Queue: "jobs", Body: []byte("job")})
	require.NoError(t, err)
	msgs, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, queue.ChangeVisibility(ctx, provider.ChangeVisibilityRequest{
		Queue:             "jobs",
		ReceiptHandle:     msgs[0].ReceiptHandle,
		VisibilityTimeout: 10 * time.Minute,
	}))

	clock.Advance(5 * time.Minute)
	hidden, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	clock.Advance(6 * time.Minute)
	visible, err := queue.Dequeue(ctx, provider.DequeueRequest{Queue: "jobs"})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestCompareAndSwap(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	meta := p.MetadataStore()

	// Expected version zero means create-only.
	res, err := meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("a"), ExpectedVersion: 0})
	require.NoError(t, err)
	assert.True(t, res.Swapped)
	assert.Equal(t, int64(1), res.CurrentVersion)

	res, err = meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("b"), ExpectedVersion: 0})
	require.NoError(t, err)
	assert.False(t, res.Swapped)
	assert.Equal(t, int64(1), res.CurrentVersion)

	res, err = meta.CompareAndSwap(ctx, provider.CASRequest{Key: "leader", Value: []byte("b"), ExpectedVersion: 1})
	require.NoError(t, err)
	assert.True(t, res.Swapped)

	entry, err := meta.GetEntry(ctx, "leader")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), entry.Value)
	assert.Equal(t, int64(2), entry.Version)
}

func TestMetadataPutBumpsVersion(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := testCtx(t)
	meta := p.MetadataStore()

	e1, err := meta.PutEntry(ctx, provider.PutEntryRequest{Key: "cfg", Value: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.Version)

	e2, err := meta.PutEntry(ctx, provider.PutEntryRequest{Key: "cfg", Value: []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Version)

	require.NoError(t, meta.DeleteEntry(ctx, provider.DeleteEntryRequest{Key: "cfg"}))
	_, err = meta.GetEntry(ctx, "cfg")
	assert.Equal(t, provider.CodeNotFound, provider.CodeOf(err))
}

func TestExpiredContextRejected(t *testing.T) {
	t.Parallel()

	clock := provider.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	p := New()
	ctx := provider.NewTestContext(t, "tenant-1", clock).WithTimeout(time.Second)
	clock.Advance(2 * time.Second)

	_, err := p.SecretStore().GetSecret(ctx, provider.GetSecretRequest{Name: "x"})
	assert.Equal(t, provider.CodeDeadlineExceeded, provider.CodeOf(err))
}
