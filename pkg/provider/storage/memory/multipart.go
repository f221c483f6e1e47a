package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

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
	s.uploads[uploadID] = &multipartState{
		key:         key,
		contentType: contentType,
		parts:       make(map[int32][]byte),
		etags:       make(map[int32]string),
	}
	return uploadID, nil
}

func (s *Store) upload(uploadID string) (*multipartState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrProviderClosed
	}
	up, ok := s.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchUpload, uploadID)
	}
	return up, nil
}

// UploadPart implements storage.Provider.
func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	up, err := s.upload(uploadID)
	if err != nil {
		return "", err
	}

	body := make([]byte, len(data))
	copy(body, data)
	etag := etagFor(body)

	up.mu.Lock()
	up.parts[partNumber] = body
	up.etags[partNumber] = etag
	up.mu.Unlock()
	return etag, nil
}

// PresignUploadPart implements storage.Provider. The returned URL carries
// the upload id and part number so pkg/api can route the PUT back here.
func (s *Store) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if _, err := s.upload(uploadID); err != nil {
		return "", err
	}
	partKey := fmt.Sprintf("%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber)
	return s.signer.SignURL("memory", bucket, partKey, storage.PresignMethodPut, expires)
}

// CompleteMultipartUpload implements storage.Provider. Parts are assembled
// in the order given; each referenced part must exist with a matching ETag.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	up, err := s.upload(uploadID)
	if err != nil {
		return "", err
	}

	up.mu.Lock()
	var body []byte
	for _, p := range parts {
		data, ok := up.parts[p.PartNumber]
		if !ok {
			up.mu.Unlock()
			return "", fmt.Errorf("%w: part %d was never uploaded", storage.ErrNoSuchUpload, p.PartNumber)
		}
		body = append(body, data...)
	}
	contentType := up.contentType
	up.mu.Unlock()

	etag, err := s.Put(ctx, storage.PutInput{
		Bucket:      bucket,
		Key:         key,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	delete(s.uploads, uploadID)
	s.mu.Unlock()
	return etag, nil
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
	delete(s.uploads, uploadID)
	return nil
}
