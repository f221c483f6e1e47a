// Package s3 implements the storage provider for Amazon S3 and
// S3-compatible object stores (MinIO, IBM COS, localstack).
//
// The adapter is a thin mapping onto the aws-sdk-go-v2 client: objects,
// metadata, listings, copies and multipart uploads all use the native S3
// calls, and presigned URLs come from the SDK's presign client rather than
// the process-local token signer the other adapters use.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "s3"

// Config holds configuration for the S3 provider.
type Config struct {
	// Client is the configured S3 client. Required.
	Client *awss3.Client

	// Bucket is the bucket all objects live in. Required; the bucket must
	// already exist.
	Bucket string

	// ReadTimeout bounds individual read calls (Get, Head, List).
	// Default: 60s.
	ReadTimeout time.Duration

	// WriteTimeout bounds individual write calls (Put, Delete, Copy,
	// multipart). Default: 60s.
	WriteTimeout time.Duration
}

// ClientConfig describes how to build an S3 client from flat settings, the
// shape config files and environment variables produce.
type ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
}

// NewClient builds an S3 client from flat configuration. Static credentials
// are used when an access key is given; otherwise the default AWS credential
// chain applies.
func NewClient(ctx context.Context, cc ClientConfig) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cc.Region),
	}
	if cc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKeyID, cc.SecretAccessKey, cc.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
		o.UsePathStyle = cc.ForcePathStyle
	})
	return client, nil
}

// Store is the S3 implementation of storage.Provider.
type Store struct {
	client       *awss3.Client
	presigner    *awss3.PresignClient
	bucket       string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates an S3 provider and verifies access to the configured bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	s := &Store{
		client:       cfg.Client,
		presigner:    awss3.NewPresignClient(cfg.Client),
		bucket:       cfg.Bucket,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
	if err := s.HeadBucket(ctx, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}
	return s, nil
}

// Name implements storage.Provider.
func (s *Store) Name() string { return ProviderName }

// mapError translates SDK error types onto the provider sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", storage.ErrNoSuchKey, err)
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %v", storage.ErrNoSuchBucket, err)
	}
	var noUpload *types.NoSuchUpload
	if errors.As(err, &noUpload) {
		return fmt.Errorf("%w: %v", storage.ErrNoSuchUpload, err)
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", storage.ErrNoSuchKey, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", storage.ErrAccessDenied, err)
		}
	}
	return err
}

// Put implements storage.Provider.
func (s *Store) Put(ctx context.Context, in storage.PutInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	out, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(in.Bucket),
		Key:         aws.String(in.Key),
		Body:        bytes.NewReader(in.Body),
		ContentType: aws.String(in.ContentType),
		Metadata:    in.Metadata,
	})
	if err != nil {
		return "", mapError(err)
	}
	return aws.ToString(out.ETag), nil
}

// PutStream implements storage.StreamPutter, handing the reader straight to
// the SDK so large bodies never sit in memory at once.
func (s *Store) PutStream(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) (string, int64, error) {
	counter := &countingReader{r: body}
	out, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        counter,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", counter.n, mapError(err)
	}
	return aws.ToString(out.ETag), counter.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Get implements storage.Provider.
func (s *Store) Get(ctx context.Context, bucket, key string) (*storage.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return &storage.Object{
		Body:          body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		Metadata:      out.Metadata,
		ETag:          aws.ToString(out.ETag),
		LastModified:  aws.ToTime(out.LastModified),
	}, nil
}

// GetStream implements storage.StreamGetter. The read timeout is not
// applied here: the caller drains the body at its own pace.
func (s *Store) GetStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

// Head implements storage.Provider.
func (s *Store) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &storage.ObjectInfo{
		Key:           key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		Metadata:      out.Metadata,
		ETag:          aws.ToString(out.ETag),
		LastModified:  aws.ToTime(out.LastModified),
	}, nil
}

// HeadBucket implements storage.Provider.
func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, storage.ErrNoSuchKey) {
			return fmt.Errorf("%w: %s", storage.ErrNoSuchBucket, bucket)
		}
		return err
	}
	return nil
}

// List implements storage.Provider.
func (s *Store) List(ctx context.Context, bucket, prefix string, maxKeys int) (*storage.ListResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	if maxKeys <= 0 {
		maxKeys = 1000
	}
	out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(maxKeys)),
	})
	if err != nil {
		return nil, mapError(err)
	}

	result := &storage.ListResult{
		Contents:    make([]storage.ListEntry, 0, len(out.Contents)),
		KeyCount:    int(aws.ToInt32(out.KeyCount)),
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	for _, obj := range out.Contents {
		result.Contents = append(result.Contents, storage.ListEntry{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return result, nil
}

// Delete implements storage.Provider. S3 DeleteObject already succeeds on
// absent keys.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return mapError(err)
}

// DeleteBatch implements storage.Provider via the native DeleteObjects call,
// chunked to S3's 1000-key limit.
func (s *Store) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]string, error) {
	const chunkSize = 1000

	deleted := make([]string, 0, len(keys))
	for start := 0; start < len(keys); start += chunkSize {
		end := min(start+chunkSize, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		callCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		out, err := s.client.DeleteObjects(callCtx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		cancel()
		if err != nil {
			return deleted, mapError(err)
		}
		for _, d := range out.Deleted {
			deleted = append(deleted, aws.ToString(d.Key))
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("failed to delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return deleted, nil
}

// Copy implements storage.Provider using server-side CopyObject.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	out, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return "", mapError(err)
	}
	if out.CopyObjectResult != nil {
		return aws.ToString(out.CopyObjectResult.ETag), nil
	}
	return "", nil
}

// PresignGet implements storage.Provider. The object must exist; S3 itself
// would happily sign a URL for an absent key.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := s.Head(ctx, bucket, key); err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET: %w", err)
	}
	return req.URL, nil
}

// PresignPut implements storage.Provider.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT: %w", err)
	}
	return req.URL, nil
}

// Close implements storage.Provider. The SDK client holds no resources that
// need explicit teardown.
func (s *Store) Close() error { return nil }

// Ensure Store implements storage.Provider and streaming puts.
var (
	_ storage.Provider     = (*Store)(nil)
	_ storage.StreamPutter = (*Store)(nil)
)
