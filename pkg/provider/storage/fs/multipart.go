package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Multipart uploads stage part files under {bucket}/.parts/{uploadID}/ and
// assemble them into the target object on complete. The staging directory is
// skipped by List.

type uploadManifest struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	StartedAt   time.Time `json:"started_at"`
}

func (s *Store) uploadDir(bucket, uploadID string) string {
	return filepath.Join(s.root, bucket, partsDir, uploadID)
}

func partFile(dir string, partNumber int32) string {
	return filepath.Join(dir, fmt.Sprintf("part-%05d", partNumber))
}

func (s *Store) readManifest(bucket, uploadID string) (*uploadManifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.uploadDir(bucket, uploadID), "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchUpload, uploadID)
		}
		return nil, err
	}
	var m uploadManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("corrupt upload manifest %s: %w", uploadID, err)
	}
	return &m, nil
}

// CreateMultipartUpload implements storage.Provider.
func (s *Store) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	uploadID := uuid.NewString()
	dir := s.uploadDir(bucket, uploadID)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return "", err
	}
	manifest := uploadManifest{Key: key, ContentType: contentType, StartedAt: time.Now().UTC()}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	if err := s.writeFileAtomic(filepath.Join(dir, "manifest.json"), raw); err != nil {
		return "", err
	}
	return uploadID, nil
}

// UploadPart implements storage.Provider.
func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	if _, err := s.readManifest(bucket, uploadID); err != nil {
		return "", err
	}
	if err := s.writeFileAtomic(partFile(s.uploadDir(bucket, uploadID), partNumber), data); err != nil {
		return "", err
	}
	return etagFor(data), nil
}

// PresignUploadPart implements storage.Provider. The returned URL carries
// the upload id and part number so pkg/api can route the PUT back here.
func (s *Store) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	if _, err := s.readManifest(bucket, uploadID); err != nil {
		return "", err
	}
	partKey := fmt.Sprintf("%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber)
	return s.signer.SignURL("file", bucket, partKey, storage.PresignMethodPut, expires)
}

// CompleteMultipartUpload implements storage.Provider. Parts are assembled
// in the order given; each referenced part file must exist.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrProviderClosed
	}

	manifest, err := s.readManifest(bucket, uploadID)
	if err != nil {
		return "", err
	}

	dir := s.uploadDir(bucket, uploadID)
	var body []byte
	for _, p := range parts {
		data, err := os.ReadFile(partFile(dir, p.PartNumber))
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: part %d was never uploaded", storage.ErrNoSuchUpload, p.PartNumber)
			}
			return "", err
		}
		body = append(body, data...)
	}

	path := s.objectPath(bucket, key)
	if err := s.writeFileAtomic(path, body); err != nil {
		return "", err
	}
	sc := &sidecar{
		ContentType: manifest.ContentType,
		ETag:        etagFor(body),
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeSidecar(path, sc); err != nil {
		return "", err
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	s.cleanEmptyDirs(filepath.Dir(dir), filepath.Join(s.root, bucket))
	return sc.ETag, nil
}

// AbortMultipartUpload implements storage.Provider. Unknown ids succeed.
func (s *Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrProviderClosed
	}

	dir := s.uploadDir(bucket, uploadID)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(dir), filepath.Join(s.root, bucket))
	return nil
}
