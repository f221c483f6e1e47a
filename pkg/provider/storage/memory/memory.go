// Package memory provides an in-memory storage provider.
//
// Objects live in process memory, so the provider is only suitable for
// tests, demos and single-process deployments. Two stores can share one
// backing object map through the shared-store registry (see NewShared),
// which lets separate ArtifactStore instances in one process observe each
// other's writes the way two stores sharing an S3 bucket would.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "memory"

type object struct {
	body         []byte
	contentType  string
	metadata     map[string]string
	etag         string
	lastModified time.Time
}

type multipartState struct {
	key         string
	contentType string
	parts       map[int32][]byte
	etags       map[int32]string
	mu          sync.Mutex
}

// Store is the in-memory implementation of storage.Provider.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*object
	uploads map[string]*multipartState
	signer  *storage.PresignSigner
	closed  bool

	// sharedKey is non-empty when the backing maps come from the shared
	// registry; Close then releases the reference instead of dropping data.
	sharedKey string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]*object),
		uploads: make(map[string]*multipartState),
		signer:  storage.DefaultSigner(),
	}
}

// shared-store registry, keyed by an opaque shared key
var (
	sharedMu     sync.Mutex
	sharedStores = make(map[string]*sharedEntry)
)

type sharedEntry struct {
	buckets map[string]map[string]*object
	uploads map[string]*multipartState
	refs    int
}

// NewShared returns a store backed by the process-wide object map for
// sharedKey, creating it on first use. Stores created with the same key see
// the same objects. The map is torn down when the last reference closes.
func NewShared(sharedKey string) *Store {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	entry, ok := sharedStores[sharedKey]
	if !ok {
		entry = &sharedEntry{
			buckets: make(map[string]map[string]*object),
			uploads: make(map[string]*multipartState),
		}
		sharedStores[sharedKey] = entry
	}
	entry.refs++

	return &Store{
		buckets:   entry.buckets,
		uploads:   entry.uploads,
		signer:    storage.DefaultSigner(),
		sharedKey: sharedKey,
	}
}

// ClearSharedStores drops every shared store regardless of reference
// counts. Intended for tests.
func ClearSharedStores() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedStores = make(map[string]*sharedEntry)
}

// Name implements storage.Provider.
func (s *Store) Name() string { return ProviderName }

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Store) bucket(name string) map[string]*object {
	b, ok := s.buckets[name]
	if !ok {
		b = make(map[string]*object)
		s.buckets[name] = b
	}
	return b
}

// Put implements storage.Provider.
func (s *Store) Put(ctx context.Context, in storage.PutInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	body := make([]byte, len(in.Body))
	copy(body, in.Body)

	obj := &object{
		body:         body,
		contentType:  in.ContentType,
		metadata:     meta,
		etag:         etagFor(body),
		lastModified: time.Now().UTC(),
	}
	s.bucket(in.Bucket)[in.Key] = obj
	return obj.etag, nil
}

// Get implements storage.Provider.
func (s *Store) Get(ctx context.Context, bucket, key string) (*storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}

	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
	}
	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return &storage.Object{
		Body:          body,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.body)),
		Metadata:      copyMeta(obj.metadata),
		ETag:          obj.etag,
		LastModified:  obj.lastModified,
	}, nil
}

// Head implements storage.Provider.
func (s *Store) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}

	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
	}
	return &storage.ObjectInfo{
		Key:           key,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.body)),
		Metadata:      copyMeta(obj.metadata),
		ETag:          obj.etag,
		LastModified:  obj.lastModified,
	}, nil
}

// HeadBucket implements storage.Provider. Buckets spring into existence on
// first use, so this always succeeds on an open store.
func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrProviderClosed
	}
	s.bucket(bucket)
	return nil
}

// List implements storage.Provider.
func (s *Store) List(ctx context.Context, bucket, prefix string, maxKeys int) (*storage.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}

	var keys []string
	for k := range s.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	truncated := false
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		truncated = true
	}

	result := &storage.ListResult{
		Contents:    make([]storage.ListEntry, 0, len(keys)),
		KeyCount:    len(keys),
		IsTruncated: truncated,
	}
	for _, k := range keys {
		result.Contents = append(result.Contents, storage.ListEntry{
			Key:  k,
			Size: int64(len(s.buckets[bucket][k].body)),
		})
	}
	return result, nil
}

// Delete implements storage.Provider. Absent keys succeed.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrProviderClosed
	}
	delete(s.buckets[bucket], key)
	return nil
}

// DeleteBatch implements storage.Provider.
func (s *Store) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}
	deleted := make([]string, 0, len(keys))
	for _, k := range keys {
		delete(s.buckets[bucket], k)
		deleted = append(deleted, k)
	}
	return deleted, nil
}

// Copy implements storage.Provider.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	src, ok := s.buckets[bucket][srcKey]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, srcKey)
	}
	body := make([]byte, len(src.body))
	copy(body, src.body)
	dst := &object{
		body:         body,
		contentType:  src.contentType,
		metadata:     copyMeta(src.metadata),
		etag:         src.etag,
		lastModified: time.Now().UTC(),
	}
	s.bucket(bucket)[dstKey] = dst
	return dst.etag, nil
}

// PresignGet implements storage.Provider. Fails with ErrNoSuchKey when the
// object does not exist.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := s.Head(ctx, bucket, key); err != nil {
		return "", err
	}
	return s.signer.SignURL("memory", bucket, key, storage.PresignMethodGet, expires)
}

// PresignPut implements storage.Provider.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return "", storage.ErrProviderClosed
	}
	return s.signer.SignURL("memory", bucket, key, storage.PresignMethodPut, expires)
}

// Close implements storage.Provider. For shared stores the backing maps
// survive until the last reference is released.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.sharedKey != "" {
		sharedMu.Lock()
		if entry, ok := sharedStores[s.sharedKey]; ok {
			entry.refs--
			if entry.refs <= 0 {
				delete(sharedStores, s.sharedKey)
			}
		}
		sharedMu.Unlock()
	}
	return nil
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Ensure Store implements storage.Provider.
var _ storage.Provider = (*Store)(nil)
