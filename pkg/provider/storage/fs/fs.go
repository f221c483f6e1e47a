// Package fs provides a filesystem-backed storage provider.
//
// Objects are stored as files under {root}/{bucket}/{key}, with a JSON
// sidecar ({path}.meta.json) carrying content type, user metadata and the
// ETag. Writes go through a temporary file plus rename for atomicity.
package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "filesystem"

const (
	metaSuffix = ".meta.json"
	partsDir   = ".parts"
	tmpSuffix  = ".tmp"
)

// Config holds configuration for the filesystem provider.
type Config struct {
	// Root is the directory under which buckets are created.
	Root string

	// DirMode is the permission mode for created directories. Default: 0755.
	DirMode os.FileMode

	// FileMode is the permission mode for created files. Default: 0644.
	FileMode os.FileMode
}

// Store is the filesystem implementation of storage.Provider.
type Store struct {
	mu       sync.RWMutex
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
	signer   *storage.PresignSigner
	closed   bool
}

// sidecar is the JSON sidecar persisted next to each object file.
type sidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	StoredAt    time.Time         `json:"stored_at"`
}

// New creates a filesystem provider rooted at cfg.Root, creating the root
// directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
		return nil, err
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("root path is not a directory")
	}
	return &Store{
		root:     cfg.Root,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
		signer:   storage.DefaultSigner(),
	}, nil
}

// Name implements storage.Provider.
func (s *Store) Name() string { return ProviderName }

func (s *Store) objectPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// writeFileAtomic writes data to path through a temp file plus rename.
func (s *Store) writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, s.fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) readSidecar(path string) (*sidecar, error) {
	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			// Object written out of band; synthesize defaults.
			return &sidecar{ContentType: "application/octet-stream"}, nil
		}
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("corrupt sidecar for %s: %w", path, err)
	}
	return &sc, nil
}

func (s *Store) writeSidecar(path string, sc *sidecar) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.writeFileAtomic(path+metaSuffix, raw)
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

	path := s.objectPath(in.Bucket, in.Key)
	if err := s.writeFileAtomic(path, in.Body); err != nil {
		return "", err
	}
	sc := &sidecar{
		ContentType: in.ContentType,
		Metadata:    in.Metadata,
		ETag:        etagFor(in.Body),
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeSidecar(path, sc); err != nil {
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

	path := s.objectPath(bucket, key)
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	sc, err := s.readSidecar(path)
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

// GetStream implements storage.StreamGetter by handing out the open file.
func (s *Store) GetStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}

	f, err := os.Open(s.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	return f, nil
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

	path := s.objectPath(bucket, key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	sc, err := s.readSidecar(path)
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

// HeadBucket implements storage.Provider, creating the bucket directory if
// it does not exist.
func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrProviderClosed
	}
	return os.MkdirAll(filepath.Join(s.root, bucket), s.dirMode)
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

	bucketDir := filepath.Join(s.root, bucket)
	if _, err := os.Stat(bucketDir); err != nil {
		if os.IsNotExist(err) {
			return &storage.ListResult{}, nil
		}
		return nil, err
	}

	type entry struct {
		key  string
		size int64
	}
	var entries []entry
	err := filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Part staging directories are internal state, not objects.
			if strings.HasSuffix(d.Name(), partsDir) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
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

	path := s.objectPath(bucket, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(path), filepath.Join(s.root, bucket))
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

// cleanEmptyDirs removes empty directories up to (but excluding) stop.
func (s *Store) cleanEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			break // not empty or gone
		}
		dir = filepath.Dir(dir)
	}
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
	return s.signer.SignURL("file", bucket, key, storage.PresignMethodGet, expires)
}

// PresignPut implements storage.Provider.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.signer.SignURL("file", bucket, key, storage.PresignMethodPut, expires)
}

// Close implements storage.Provider.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Root returns the root directory of the store (for testing).
func (s *Store) Root() string { return s.root }

// Ensure Store implements storage.Provider.
var _ storage.Provider = (*Store)(nil)
