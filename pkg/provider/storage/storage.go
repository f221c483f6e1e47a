// Package storage defines the object storage provider contract.
//
// The method set is deliberately the S3 lowest common denominator: every
// adapter (memory, filesystem, S3, afero-backed VFS, sqlite) satisfies the
// same put/get/head/list/delete/copy/presign/multipart surface so the
// coordinator never special-cases a backend.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors returned by Provider implementations.
var (
	// ErrNoSuchKey is returned when a requested object doesn't exist.
	ErrNoSuchKey = errors.New("no such key")

	// ErrNoSuchBucket is returned when the bucket doesn't exist.
	ErrNoSuchBucket = errors.New("no such bucket")

	// ErrAccessDenied is returned when the backend rejects the credentials
	// or the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoSuchUpload is returned for an unknown multipart upload id.
	ErrNoSuchUpload = errors.New("no such multipart upload")

	// ErrNotSupported is returned when an adapter cannot implement an
	// operation (for example presigned part URLs on the sqlite adapter).
	ErrNotSupported = errors.New("operation not supported")

	// ErrProviderClosed is returned when operations are attempted on a
	// closed provider.
	ErrProviderClosed = errors.New("provider is closed")
)

// Object is a stored object together with its payload.
type Object struct {
	Body          []byte
	ContentType   string
	ContentLength int64
	Metadata      map[string]string
	ETag          string
	LastModified  time.Time
}

// ObjectInfo describes an object without its payload.
type ObjectInfo struct {
	Key           string
	ContentType   string
	ContentLength int64
	Metadata      map[string]string
	ETag          string
	LastModified  time.Time
}

// ListEntry is one result row of a List call. ETag and LastModified are
// populated by adapters whose backends report them (S3, sqlite) and are
// zero otherwise.
type ListEntry struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListResult holds one page of list results.
type ListResult struct {
	Contents    []ListEntry
	KeyCount    int
	IsTruncated bool
}

// PutInput carries the arguments of a Put call.
type PutInput struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// CompletedPart identifies one uploaded part when completing a multipart
// upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Provider is the object storage contract every adapter satisfies.
//
// All methods are safe for concurrent use. Delete is idempotent: deleting
// an absent key succeeds. Presign methods fail with ErrNoSuchKey when the
// object does not exist (uniform behavior across adapters; S3 itself would
// happily sign a URL for a future object).
type Provider interface {
	// Name returns the provider name ("memory", "filesystem", "s3", ...).
	Name() string

	// Put stores an object, overwriting any existing object at the key.
	Put(ctx context.Context, in PutInput) (etag string, err error)

	// Get returns the object at the key, or ErrNoSuchKey.
	Get(ctx context.Context, bucket, key string) (*Object, error)

	// Head returns object info without the payload, or ErrNoSuchKey.
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// HeadBucket verifies the bucket is reachable, creating it (or the
	// backing directory) when the adapter supports that.
	HeadBucket(ctx context.Context, bucket string) error

	// List returns up to maxKeys objects under prefix, lexicographically
	// ordered. maxKeys <= 0 means the adapter default (1000).
	List(ctx context.Context, bucket, prefix string, maxKeys int) (*ListResult, error)

	// Delete removes an object. Absent keys succeed.
	Delete(ctx context.Context, bucket, key string) error

	// DeleteBatch removes several objects, returning the keys actually
	// deleted. Absent keys are reported as deleted.
	DeleteBatch(ctx context.Context, bucket string, keys []string) ([]string, error)

	// Copy copies an object within the bucket, returning the new ETag.
	Copy(ctx context.Context, bucket, srcKey, dstKey string) (etag string, err error)

	// PresignGet returns a time-bounded URL authorizing a read of the
	// object. Non-HTTP adapters return scheme-specific URLs (memory://,
	// file://, sqlite://) redeemable only through this process.
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)

	// PresignPut returns a time-bounded URL authorizing a write.
	PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error)

	// CreateMultipartUpload starts a multipart upload and returns its id.
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)

	// UploadPart uploads one part (1-10000) and returns its ETag.
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error)

	// PresignUploadPart returns a URL authorizing the upload of one part.
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error)

	// CompleteMultipartUpload assembles the uploaded parts into the final
	// object and returns its ETag. Parts must be passed in ascending order.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (string, error)

	// AbortMultipartUpload discards an open upload. Unknown ids succeed.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// Close releases resources held by the provider.
	Close() error
}

// StreamPutter is implemented by adapters with a native streaming put path
// (S3). The streaming engine uses it when available and falls back to
// multipart assembly otherwise.
type StreamPutter interface {
	// PutStream stores an object from a reader without buffering the whole
	// payload, returning the ETag and the byte count written.
	PutStream(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) (etag string, written int64, err error)
}

// StreamGetter is implemented by adapters that can hand out the payload
// as a reader without buffering it whole (S3, filesystem). The streaming
// engine uses it when available and falls back to a buffered Get
// otherwise.
type StreamGetter interface {
	// GetStream returns a reader over the object's payload, or
	// ErrNoSuchKey. The caller owns the reader and must close it.
	GetStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// IsNotFound reports whether err is an object- or bucket-missing error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchKey) || errors.Is(err, ErrNoSuchBucket)
}
