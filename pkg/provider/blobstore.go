package provider

import "time"

// BlobStorage is the object storage capability contract.
//
// Multipart upload is an explicit three-phase protocol: CreateMultipartUpload
// hands out an upload ID, UploadPart stages parts against it, and
// CompleteMultipartUpload assembles them into the destination object.
// AbortMultipartUpload is the only valid recovery path once any part fails;
// a partially completed upload must never leave a retrievable object.
type BlobStorage interface {
	PutObject(ctx *Context, req PutObjectRequest) (PutObjectResult, error)
	GetObject(ctx *Context, req GetObjectRequest) (Object, error)
	DeleteObject(ctx *Context, req DeleteObjectRequest) error
	ObjectExists(ctx *Context, key string) (bool, error)

	// ListObjects pages keys under a prefix; empty NextToken in the result
	// means the listing is complete.
	ListObjects(ctx *Context, req ListObjectsRequest) (ObjectList, error)

	CreateMultipartUpload(ctx *Context, req CreateMultipartUploadRequest) (MultipartUpload, error)
	UploadPart(ctx *Context, req UploadPartRequest) (UploadedPart, error)
	CompleteMultipartUpload(ctx *Context, req CompleteMultipartUploadRequest) (PutObjectResult, error)
	AbortMultipartUpload(ctx *Context, req AbortMultipartUploadRequest) error
}

// PutObjectRequest writes a whole object in one call.
type PutObjectRequest struct {
	Key            string
	Data           []byte
	ContentType    string
	Metadata       map[string]string
	IdempotencyKey string
}

// PutObjectResult identifies the stored object.
type PutObjectResult struct {
	Key  string
	ETag string
}

// GetObjectRequest reads an object.
type GetObjectRequest struct {
	Key string
}

// Object is a retrieved object with its metadata.
type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	ETag         string
	Metadata     map[string]string
	LastModified time.Time
}

// DeleteObjectRequest removes an object.
type DeleteObjectRequest struct {
	Key            string
	IdempotencyKey string
}

// ListObjectsRequest pages object keys.
type ListObjectsRequest struct {
	Prefix     string
	NextToken  string
	MaxResults int
}

// ObjectList is one page of keys.
type ObjectList struct {
	Keys      []string
	NextToken string
}

// CreateMultipartUploadRequest starts a multipart upload for a key.
type CreateMultipartUploadRequest struct {
	Key            string
	ContentType    string
	Metadata       map[string]string
	IdempotencyKey string
}

// MultipartUpload identifies an in-progress upload.
type MultipartUpload struct {
	UploadID string
	Key      string
}

// UploadPartRequest stages one part. PartNumber starts at 1.
type UploadPartRequest struct {
	UploadID   string
	PartNumber int
	Data       []byte
}

// UploadedPart acknowledges a staged part.
type UploadedPart struct {
	PartNumber int
	ETag       string
}

// CompleteMultipartUploadRequest assembles the staged parts, in the given
// order, into the destination object.
type CompleteMultipartUploadRequest struct {
	UploadID string
	Parts    []UploadedPart
}

// AbortMultipartUploadRequest discards an upload and all staged parts.
type AbortMultipartUploadRequest struct {
	UploadID string
}
