// Package vfs provides a storage provider backed by an afero virtual
// filesystem. With afero.MemMapFs it behaves like the memory provider but
// with real path semantics; with an OS-backed Fs it persists to disk while
// remaining swappable in tests.
package vfs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Provider names for the two stock configurations.
const (
	MemoryProviderName     = "vfs-memory"
	FilesystemProviderName = "vfs-filesystem"
)

const (
	metaSuffix = ".meta.json"
	tmpSuffix  = ".tmp"
	partsDir   = ".parts"
)

// Config holds configuration for the VFS provider.
type Config struct {
	// Fs is the backing filesystem. Required.
	Fs afero.Fs

	// Name is the provider name reported by Name(). Required.
	Name string

	// Scheme is the URL scheme used for presigned URLs, e.g. "memory" or
	// "file". Default: "vfs".
	Scheme string
}

// Store is the afero-backed implementation of storage.Provider.
type Store struct {
	mu     sync.RWMutex
	fs     afero.Fs
	name   string
	scheme string
	signer *storage.PresignSigner
	closed bool
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	StoredAt    time.Time         `json:"stored_at"`
}

// New creates a VFS provider over the given filesystem.
func New(cfg Config) (*Store, error) {
	if cfg.Fs == nil {
		return nil, errors.New("backing filesystem is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "vfs"
	}
	return &Store{
		fs:     cfg.Fs,
		name:   cfg.Name,
		scheme: cfg.Scheme,
		signer: storage.DefaultSigner(),
	}, nil
}

// NewMemory creates a VFS provider over a fresh in-memory filesystem.
func NewMemory() *Store {
	s, _ := New(Config{Fs: afero.NewMemMapFs(), Name: MemoryProviderName, Scheme: "memory"})
	return s
}

// NewFilesystem creates a VFS provider rooted at dir on the OS filesystem.
func NewFilesystem(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("root directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	base := afero.NewBasePathFs(afero.NewOsFs(), dir)
	return New(Config{Fs: base, Name: FilesystemProviderName, Scheme: "file"})
}

// Name implements storage.Provider.
func (s *Store) Name() string { return s.name }

func objectPath(bucket, key string) string {
	return path.Join("/", bucket, key)
}

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Store) writeAtomic(p string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return err
	}
	tmp := p + tmpSuffix
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) readSidecar(p string) (*sidecar, error) {
	raw, err := afero.ReadFile(s.fs, p+metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return &sidecar{ContentType: "application/octet-stream"}, nil
		}
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("corrupt sidecar for %s: %w", p, err)
	}
	return &sc, nil
}

func (s *Store) writeSidecar(p string, sc *sidecar) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.writeAtomic(p+metaSuffix, raw)
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

	p := objectPath(in.Bucket, in.Key)
	if err := s.writeAtomic(p, in.Body); err != nil {
		return "", err
	}
	sc := &sidecar{
		ContentType: in.ContentType,
		Metadata:    in.Metadata,
		ETag:        etagFor(in.Body),
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeSidecar(p, sc); err != nil {
		return "", err
	}
	return sc.ETag, nil
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

	p := objectPath(bucket, key)
	body, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	sc, err := s.readSidecar(p)
	if err != nil {
		return nil, err
	}
	return &storage.Object{
		Body:          body,
		ContentType:   sc.ContentType,
		ContentLength: int64(len(body)),
		Metadata:      sc.Metadata,
		ETag:          sc.ETag,
		LastModified:  sc.StoredAt,
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

	p := objectPath(bucket, key)
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	sc, err := s.readSidecar(p)
	if err != nil {
		return nil, err
	}
	return &storage.ObjectInfo{
		Key:           key,
		ContentType:   sc.ContentType,
		ContentLength: info.Size(),
		Metadata:      sc.Metadata,
		ETag:          sc.ETag,
		LastModified:  sc.StoredAt,
	}, nil
}

// HeadBucket implements storage.Provider.
func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrProviderClosed
	}
	return s.fs.MkdirAll(path.Join("/", bucket), 0755)
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

	bucketDir := path.Join("/", bucket)
	if ok, err := afero.DirExists(s.fs, bucketDir); err != nil {
		return nil, err
	} else if !ok {
		return &storage.ListResult{}, nil
	}

	type entry struct {
		key  string
		size int64
	}
	var entries []entry
	err := afero.Walk(s.fs, bucketDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasSuffix(info.Name(), partsDir) {
				return fs.SkipDir
			}
			return nil
		}
		name := info.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, tmpSuffix) {
			return nil
		}
		key := strings.TrimPrefix(strings.TrimPrefix(p, bucketDir), "/")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		entries = append(entries, entry{key: key, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	truncated := false
	if len(entries) > maxKeys {
		entries = entries[:maxKeys]
		truncated = true
	}

	result := &storage.ListResult{
		Contents:    make([]storage.ListEntry, 0, len(entries)),
		KeyCount:    len(entries),
		IsTruncated: truncated,
	}
	for _, e := range entries {
		result.Contents = append(result.Contents, storage.ListEntry{Key: e.key, Size: e.size})
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

	p := objectPath(bucket, key)
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := s.fs.Remove(p + metaSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteBatch implements storage.Provider.
func (s *Store) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]string, error) {
	deleted := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := s.Delete(ctx, bucket, k); err != nil {
			return deleted, err
		}
		deleted = append(deleted, k)
	}
	return deleted, nil
}

// Copy implements storage.Provider.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) (string, error) {
	obj, err := s.Get(ctx, bucket, srcKey)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, storage.PutInput{
		Bucket:      bucket,
		Key:         dstKey,
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	})
}

// PresignGet implements storage.Provider. Fails with ErrNoSuchKey when the
// object does not exist.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := s.Head(ctx, bucket, key); err != nil {
		return "", err
	}
	return s.signer.SignURL(s.scheme, bucket, key, storage.PresignMethodGet, expires)
}

// PresignPut implements storage.Provider.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.signer.SignURL(s.scheme, bucket, key, storage.PresignMethodPut, expires)
}

// Close implements storage.Provider.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Store implements storage.Provider.
var _ storage.Provider = (*Store)(nil)
