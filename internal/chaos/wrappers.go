package chaos

import (
	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

type chaosKMS struct {
	adapter *Adapter
	inner   provider.KMS
}

func (c *chaosKMS) Encrypt(ctx *provider.Context, req provider.KMSEncryptRequest) (provider.KMSEncryptResult, error) {
	if err := c.adapter.inject(ctx, "kms.encrypt", req.KeyID); err != nil {
		return provider.KMSEncryptResult{}, err
	}
	return c.inner.Encrypt(ctx, req)
}

func (c *chaosKMS) Decrypt(ctx *provider.Context, req provider.KMSDecryptRequest) (provider.KMSDecryptResult, error) {
	if err := c.adapter.inject(ctx, "kms.decrypt", req.KeyID); err != nil {
		return provider.KMSDecryptResult{}, err
	}
	return c.inner.Decrypt(ctx, req)
}

func (c *chaosKMS) GenerateDataKey(ctx *provider.Context, req provider.GenerateDataKeyRequest) (provider.DataKey, error) {
	if err := c.adapter.inject(ctx, "kms.generateDataKey", req.KeyID); err != nil {
		return provider.DataKey{}, err
	}
	return c.inner.GenerateDataKey(ctx, req)
}

func (c *chaosKMS) DescribeKey(ctx *provider.Context, keyID string) (provider.KeyInfo, error) {
	if err := c.adapter.inject(ctx, "kms.describeKey", keyID); err != nil {
		return provider.KeyInfo{}, err
	}
	return c.inner.DescribeKey(ctx, keyID)
}

type chaosSecretStore struct {
	adapter *Adapter
	inner   provider.SecretStore
}

func (c *chaosSecretStore) GetSecret(ctx *provider.Context, req provider.GetSecretRequest) (provider.Secret, error) {
	if err := c.adapter.inject(ctx, "secretStore.get", req.Name); err != nil {
		return provider.Secret{}, err
	}
	return c.inner.GetSecret(ctx, req)
}

func (c *chaosSecretStore) PutSecret(ctx *provider.Context, req provider.PutSecretRequest) (provider.PutSecretResult, error) {
	if err := c.adapter.inject(ctx, "secretStore.put", req.Name); err != nil {
		return provider.PutSecretResult{}, err
	}
	return c.inner.PutSecret(ctx, req)
}

func (c *chaosSecretStore) DeleteSecret(ctx *provider.Context, req provider.DeleteSecretRequest) error {
	if err := c.adapter.inject(ctx, "secretStore.delete", req.Name); err != nil {
		return err
	}
	return c.inner.DeleteSecret(ctx, req)
}

func (c *chaosSecretStore) ListSecrets(ctx *provider.Context, req provider.ListSecretsRequest) (provider.SecretList, error) {
	if err := c.adapter.inject(ctx, "secretStore.list", req.Prefix); err != nil {
		return provider.SecretList{}, err
	}
	return c.inner.ListSecrets(ctx, req)
}

type chaosBlobStorage struct {
	adapter *Adapter
	inner   provider.BlobStorage
}

func (c *chaosBlobStorage) PutObject(ctx *provider.Context, req provider.PutObjectRequest) (provider.PutObjectResult, error) {
	if err := c.adapter.inject(ctx, "blobStorage.put", req.Key); err != nil {
		return provider.PutObjectResult{}, err
	}
	return c.inner.PutObject(ctx, req)
}

func (c *chaosBlobStorage) GetObject(ctx *provider.Context, req provider.GetObjectRequest) (provider.Object, error) {
	if err := c.adapter.inject(ctx, "blobStorage.get", req.Key); err != nil {
		return provider.Object{}, err
	}
	return c.inner.GetObject(ctx, req)
}

func (c *chaosBlobStorage) DeleteObject(ctx *provider.Context, req provider.DeleteObjectRequest) error {
	if err := c.adapter.inject(ctx, "blobStorage.delete", req.Key); err != nil {
		return err
	}
	return c.inner.DeleteObject(ctx, req)
}

func (c *chaosBlobStorage) ObjectExists(ctx *provider.Context, key string) (bool, error) {
	if err := c.adapter.inject(ctx, "blobStorage.exists", key); err != nil {
		return false, err
	}
	return c.inner.ObjectExists(ctx, key)
}

func (c *chaosBlobStorage) ListObjects(ctx *provider.Context, req provider.ListObjectsRequest) (provider.ObjectList, error) {
	if err := c.adapter.inject(ctx, "blobStorage.list", req.Prefix); err != nil {
		return provider.ObjectList{}, err
	}
	return c.inner.ListObjects(ctx, req)
}

func (c *chaosBlobStorage) CreateMultipartUpload(ctx *provider.Context, req provider.CreateMultipartUploadRequest) (provider.MultipartUpload, error) {
	if err := c.adapter.inject(ctx, "blobStorage.createMultipartUpload", req.Key); err != nil {
		return provider.MultipartUpload{}, err
	}
	return c.inner.CreateMultipartUpload(ctx, req)
}

func (c *chaosBlobStorage) UploadPart(ctx *provider.Context, req provider.UploadPartRequest) (provider.UploadedPart, error) {
	if err := c.adapter.inject(ctx, "blobStorage.uploadPart", req.UploadID); err != nil {
		return provider.UploadedPart{}, err
	}
	return c.inner.UploadPart(ctx, req)
}

func (c *chaosBlobStorage) CompleteMultipartUpload(ctx *provider.Context, req provider.CompleteMultipartUploadRequest) (provider.PutObjectResult, error) {
	if err := c.adapter.inject(ctx, "blobStorage.completeMultipartUpload", req.UploadID); err != nil {
		return provider.PutObjectResult{}, err
	}
	return c.inner.CompleteMultipartUpload(ctx, req)
}

func (c *chaosBlobStorage) AbortMultipartUpload(ctx *provider.Context, req provider.AbortMultipartUploadRequest) error {
	if err := c.adapter.inject(ctx, "blobStorage.abortMultipartUpload", req.UploadID); err != nil {
		return err
	}
	return c.inner.AbortMultipartUpload(ctx, req)
}

type chaosQueue struct {
	adapter *Adapter
	inner   provider.Queue
}

func (c *chaosQueue) Enqueue(ctx *provider.Context, req provider.EnqueueRequest) (provider.EnqueueResult, error) {
	if err := c.adapter.inject(ctx, "queue.enqueue", req.Queue); err != nil {
		return provider.EnqueueResult{}, err
	}
	return c.inner.Enqueue(ctx, req)
}

func (c *chaosQueue) Dequeue(ctx *provider.Context, req provider.DequeueRequest) ([]provider.Message, error) {
	if err := c.adapter.inject(ctx, "queue.dequeue", req.Queue); err != nil {
		return nil, err
	}
	return c.inner.Dequeue(ctx, req)
}

func (c *chaosQueue) Ack(ctx *provider.Context, req provider.AckRequest) error {
	if err := c.adapter.inject(ctx, "queue.ack", req.Queue); err != nil {
		return err
	}
	return c.inner.Ack(ctx, req)
}

func (c *chaosQueue) Nack(ctx *provider.Context, req provider.NackRequest) error {
	if err := c.adapter.inject(ctx, "queue.nack", req.Queue); err != nil {
		return err
	}
	return c.inner.Nack(ctx, req)
}

func (c *chaosQueue) ChangeVisibility(ctx *provider.Context, req provider.ChangeVisibilityRequest) error {
	if err := c.adapter.inject(ctx, "queue.changeVisibility", req.Queue); err != nil {
		return err
	}
	return c.inner.ChangeVisibility(ctx, req)
}

type chaosMetadataStore struct {
	adapter *Adapter
	inner   provider.MetadataStore
}

func (c *chaosMetadataStore) GetEntry(ctx *provider.Context, key string) (provider.Entry, error) {
	if err := c.adapter.inject(ctx, "metadataStore.get", key); err != nil {
		return provider.Entry{}, err
	}
	return c.inner.GetEntry(ctx, key)
}

func (c *chaosMetadataStore) PutEntry(ctx *provider.Context, req provider.PutEntryRequest) (provider.Entry, error) {
	if err := c.adapter.inject(ctx, "metadataStore.put", req.Key); err != nil {
		return provider.Entry{}, err
	}
	return c.inner.PutEntry(ctx, req)
}

func (c *chaosMetadataStore) CompareAndSwap(ctx *provider.Context, req provider.CASRequest) (provider.CASResult, error) {
	if err := c.adapter.inject(ctx, "metadataStore.compareAndSwap", req.Key); err != nil {
		return provider.CASResult{}, err
	}
	return c.inner.CompareAndSwap(ctx, req)
}

func (c *chaosMetadataStore) DeleteEntry(ctx *provider.Context, req provider.DeleteEntryRequest) error {
	if err := c.adapter.inject(ctx, "metadataStore.delete", req.Key); err != nil {
		return err
	}
	return c.inner.DeleteEntry(ctx, req)
}

func (c *chaosMetadataStore) ListEntries(ctx *provider.Context, req provider.ListEntriesRequest) (provider.EntryList, error) {
	if err := c.adapter.inject(ctx, "metadataStore.list", req.Prefix); err != nil {
		return provider.EntryList{}, err
	}
	return c.inner.ListEntries(ctx, req)
}
