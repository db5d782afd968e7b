package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

type blobService struct {
	mu      sync.Mutex
	objects map[string]provider.Object
	uploads map[string]*multipartState
}

// multipartState stages parts until the upload completes or aborts.
// Nothing is visible under the destination key until completion; an abort
// discards all staged parts and must leave no retrievable object.
type multipartState struct {
	key         string
	contentType string
	metadata    map[string]string
	parts       map[int][]byte
}

func newBlobService() *blobService {
	return &blobService{
		objects: make(map[string]provider.Object),
		uploads: make(map[string]*multipartState),
	}
}

func etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (b *blobService) PutObject(ctx *provider.Context, req provider.PutObjectRequest) (provider.PutObjectResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.PutObjectResult{}, err
	}
	data := make([]byte, len(req.Data))
	copy(data, req.Data)
	obj := provider.Object{
		Key:          req.Key,
		Data:         data,
		ContentType:  req.ContentType,
		ETag:         etag(data),
		Metadata:     req.Metadata,
		LastModified: time.Now(),
	}

	b.mu.Lock()
	b.objects[req.Key] = obj
	b.mu.Unlock()
	return provider.PutObjectResult{Key: req.Key, ETag: obj.ETag}, nil
}

func (b *blobService) GetObject(ctx *provider.Context, req provider.GetObjectRequest) (provider.Object, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Object{}, err
	}
	b.mu.Lock()
	obj, ok := b.objects[req.Key]
	b.mu.Unlock()
	if !ok {
		return provider.Object{}, provider.NewError(provider.CodeNotFound, "memory", "blobStorage.get",
			fmt.Sprintf("object %q not found", req.Key), nil)
	}
	return obj, nil
}

func (b *blobService) DeleteObject(ctx *provider.Context, req provider.DeleteObjectRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[req.Key]; !ok {
		return provider.NewError(provider.CodeNotFound, "memory", "blobStorage.delete",
			fmt.Sprintf("object %q not found", req.Key), nil)
	}
	delete(b.objects, req.Key)
	return nil
}

func (b *blobService) ObjectExists(ctx *provider.Context, key string) (bool, error) {
	if err := ctx.CheckExpired(); err != nil {
		return false, err
	}
	b.mu.Lock()
	_, ok := b.objects[key]
	b.mu.Unlock()
	return ok, nil
}

func (b *blobService) ListObjects(ctx *provider.Context, req provider.ListObjectsRequest) (provider.ObjectList, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.ObjectList{}, err
	}
	b.mu.Lock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, req.Prefix) {
			keys = append(keys, key)
		}
	}
	b.mu.Unlock()
	sort.Strings(keys)

	page, next, err := paginate(keys, req.NextToken, req.MaxResults)
	if err != nil {
		return provider.ObjectList{}, provider.NewError(provider.CodeInvalidConfig, "memory", "blobStorage.list", "bad page token", err)
	}
	return provider.ObjectList{Keys: page, NextToken: next}, nil
}

func (b *blobService) CreateMultipartUpload(ctx *provider.Context, req provider.CreateMultipartUploadRequest) (provider.MultipartUpload, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.MultipartUpload{}, err
	}
	uploadID := uuid.NewString()
	b.mu.Lock()
	b.uploads[uploadID] = &multipartState{
		key:         req.Key,
		contentType: req.ContentType,
		metadata:    req.Metadata,
		parts:       make(map[int][]byte),
	}
	b.mu.Unlock()
	return provider.MultipartUpload{UploadID: uploadID, Key: req.Key}, nil
}

func (b *blobService) UploadPart(ctx *provider.Context, req provider.UploadPartRequest) (provider.UploadedPart, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.UploadedPart{}, err
	}
	if req.PartNumber < 1 {
		return provider.UploadedPart{}, provider.NewError(provider.CodeInvalidConfig, "memory", "blobStorage.uploadPart",
			"part numbers start at 1", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	upload, ok := b.uploads[req.UploadID]
	if !ok {
		return provider.UploadedPart{}, provider.NewError(provider.CodeNotFound, "memory", "blobStorage.uploadPart",
			fmt.Sprintf("upload %q not found", req.UploadID), nil)
	}
	data := make([]byte, len(req.Data))
	copy(data, req.Data)
	upload.parts[req.PartNumber] = data
	return provider.UploadedPart{PartNumber: req.PartNumber, ETag: etag(data)}, nil
}

func (b *blobService) CompleteMultipartUpload(ctx *provider.Context, req provider.CompleteMultipartUploadRequest) (provider.PutObjectResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.PutObjectResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	upload, ok := b.uploads[req.UploadID]
	if !ok {
		return provider.PutObjectResult{}, provider.NewError(provider.CodeNotFound, "memory", "blobStorage.completeMultipartUpload",
			fmt.Sprintf("upload %q not found", req.UploadID), nil)
	}

	var assembled []byte
	for _, part := range req.Parts {
		data, ok := upload.parts[part.PartNumber]
		if !ok {
			return provider.PutObjectResult{}, provider.NewError(provider.CodeDataIntegrity, "memory", "blobStorage.completeMultipartUpload",
				fmt.Sprintf("part %d was never uploaded", part.PartNumber), nil)
		}
		assembled = append(assembled, data...)
	}

	obj := provider.Object{
		Key:          upload.key,
		Data:         assembled,
		ContentType:  upload.contentType,
		ETag:         etag(assembled),
		Metadata:     upload.metadata,
		LastModified: time.Now(),
	}
	b.objects[upload.key] = obj
	delete(b.uploads, req.UploadID)
	return provider.PutObjectResult{Key: upload.key, ETag: obj.ETag}, nil
}

func (b *blobService) AbortMultipartUpload(ctx *provider.Context, req provider.AbortMultipartUploadRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.uploads[req.UploadID]; !ok {
		return provider.NewError(provider.CodeNotFound, "memory", "blobStorage.abortMultipartUpload",
			fmt.Sprintf("upload %q not found", req.UploadID), nil)
	}
	delete(b.uploads, req.UploadID)
	return nil
}
