package artifact

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Multipart limits. Parts may arrive in any order; gaps and sizes are only
// checked at Complete.
const (
	// MinPartSize is the floor for every part except the highest-numbered
	// one.
	MinPartSize = 5 * 1024 * 1024

	// MaxParts is the highest allowed part number.
	MaxParts = 10000
)

// multipartPrefix keys upload records in the session provider.
const multipartPrefix = "multipart:"

// Upload states.
const (
	uploadStateOpen      = "open"
	uploadStateCompleted = "completed"
	uploadStateAborted   = "aborted"
)

// UploadRecord is the persisted state of one multipart upload.
type UploadRecord struct {
	UploadID         string            `json:"upload_id"`
	ProviderUploadID string            `json:"provider_upload_id"`
	ArtifactID       string            `json:"artifact_id"`
	SessionID        string            `json:"session_id,omitempty"`
	Scope            grid.Scope        `json:"scope"`
	OwnerID          string            `json:"owner_id,omitempty"`
	Key              string            `json:"key"`
	Mime             string            `json:"mime"`
	Filename         string            `json:"filename,omitempty"`
	Meta             map[string]string `json:"meta,omitempty"`
	PartsUploaded    map[int32]string  `json:"parts_uploaded"` // part number -> etag
	PartSizes        map[int32]int64   `json:"part_sizes"`
	State            string            `json:"state"`
	InitiatedAt      time.Time         `json:"initiated_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	TTLSeconds       int64             `json:"ttl"`
}

// InitiateInput carries the parameters of an Initiate call.
type InitiateInput struct {
	Filename  string
	Mime      string
	Scope     grid.Scope
	UserID    string
	SessionID string
	TTL       time.Duration
	Meta      map[string]string
}

// InitiateResult identifies a new multipart upload.
type InitiateResult struct {
	UploadID   string
	ArtifactID string
	SessionID  string
}

// Initiate opens a multipart upload. The artifact id is reserved but no
// metadata record exists until Complete.
func (s *Store) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if in.Mime == "" {
		return nil, newError(KindMalformedKey, nil, "mime type is required")
	}
	storeIn := StoreInput{
		Mime:      in.Mime,
		Filename:  in.Filename,
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Scope:     in.Scope,
		TTL:       in.TTL,
	}
	owner, err := s.normalize(ctx, &storeIn)
	if err != nil {
		return nil, err
	}
	marker, err := storeIn.Scope.Marker(owner)
	if err != nil {
		return nil, newError(KindMalformedKey, err, "invalid scope marker")
	}

	artifactID := grid.NewID()
	key, err := grid.Build(s.sandboxID, marker, artifactID)
	if err != nil {
		return nil, newError(KindMalformedKey, err, "failed to build grid key")
	}

	providerUploadID, err := s.storage.CreateMultipartUpload(ctx, s.bucket, key, in.Mime)
	if err != nil {
		return nil, newError(KindProviderError, err, "failed to open provider upload")
	}

	now := time.Now().UTC()
	rec := &UploadRecord{
		UploadID:         grid.NewID(),
		ProviderUploadID: providerUploadID,
		ArtifactID:       artifactID,
		SessionID:        storeIn.SessionID,
		Scope:            storeIn.Scope,
		OwnerID:          in.UserID,
		Key:              key,
		Mime:             in.Mime,
		Filename:         in.Filename,
		Meta:             in.Meta,
		PartsUploaded:    make(map[int32]string),
		PartSizes:        make(map[int32]int64),
		State:            uploadStateOpen,
		InitiatedAt:      now,
		ExpiresAt:        now.Add(storeIn.TTL),
		TTLSeconds:       int64(storeIn.TTL.Seconds()),
	}
	if err := s.writeUploadRecord(ctx, rec); err != nil {
		return nil, err
	}

	logger.Debug("multipart upload initiated",
		logger.UploadID(rec.UploadID),
		logger.ArtifactID(artifactID),
		logger.Key(key))
	return &InitiateResult{
		UploadID:   rec.UploadID,
		ArtifactID: artifactID,
		SessionID:  storeIn.SessionID,
	}, nil
}

func (s *Store) writeUploadRecord(ctx context.Context, rec *UploadRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return newError(KindProviderError, err, "failed to encode upload record")
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.sessions.SetEx(ctx, multipartPrefix+rec.UploadID, string(raw), ttl); err != nil {
		return newError(KindProviderError, err, "failed to write upload record")
	}
	return nil
}

// loadUploadRecord fetches the record and reaps it when its TTL lapsed
// without Complete: the provider upload is best-effort aborted and the
// record removed.
func (s *Store) loadUploadRecord(ctx context.Context, uploadID string) (*UploadRecord, error) {
	raw, err := s.sessions.Get(ctx, multipartPrefix+uploadID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, newError(KindUploadNotOpen, nil, "upload %s is not open", uploadID)
		}
		return nil, newError(KindProviderError, err, "failed to read upload record %s", uploadID)
	}

	var rec UploadRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, newError(KindProviderError, err, "corrupt upload record %s", uploadID)
	}

	if rec.State == uploadStateOpen && time.Now().After(rec.ExpiresAt) {
		if aerr := s.storage.AbortMultipartUpload(ctx, s.bucket, rec.Key, rec.ProviderUploadID); aerr != nil {
			logger.Warn("abort of expired upload failed",
				logger.UploadID(uploadID),
				logger.Err(aerr))
		}
		if derr := s.sessions.Delete(ctx, multipartPrefix+uploadID); derr != nil {
			logger.Warn("cleanup of expired upload record failed",
				logger.UploadID(uploadID),
				logger.Err(derr))
		}
		return nil, newError(KindUploadNotOpen, nil, "upload %s expired", uploadID)
	}
	return &rec, nil
}

// GetPartUploadURL returns a presigned PUT URL for one part. Part numbers
// are 1..10000 and may be requested in any order.
func (s *Store) GetPartUploadURL(ctx context.Context, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if partNumber < 1 || partNumber > MaxParts {
		return "", newError(KindInvalidPartSequence, nil, "part number %d out of range [1, %d]", partNumber, MaxParts)
	}
	rec, err := s.loadUploadRecord(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if rec.State != uploadStateOpen {
		return "", newError(KindUploadNotOpen, nil, "upload %s is %s", uploadID, rec.State)
	}

	url, err := s.storage.PresignUploadPart(ctx, s.bucket, rec.Key, rec.ProviderUploadID, partNumber, expires)
	if err != nil {
		return "", newError(KindProviderError, err, "failed to presign part %d", partNumber)
	}
	return url, nil
}

// UploadPartDirect uploads part data through the coordinator and records
// it, for callers without HTTP access to presigned URLs.
func (s *Store) UploadPartDirect(ctx context.Context, uploadID string, partNumber int32, data []byte) (string, error) {
	if partNumber < 1 || partNumber > MaxParts {
		return "", newError(KindInvalidPartSequence, nil, "part number %d out of range [1, %d]", partNumber, MaxParts)
	}
	rec, err := s.loadUploadRecord(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if rec.State != uploadStateOpen {
		return "", newError(KindUploadNotOpen, nil, "upload %s is %s", uploadID, rec.State)
	}

	etag, err := s.storage.UploadPart(ctx, s.bucket, rec.Key, rec.ProviderUploadID, partNumber, data)
	if err != nil {
		return "", newError(KindProviderError, err, "failed to upload part %d", partNumber)
	}
	if err := s.RecordPart(ctx, uploadID, partNumber, etag, int64(len(data))); err != nil {
		return "", err
	}
	return etag, nil
}

// RecordPart notes a successfully uploaded part (etag and size) on the
// upload record.
func (s *Store) RecordPart(ctx context.Context, uploadID string, partNumber int32, etag string, size int64) error {
	if partNumber < 1 || partNumber > MaxParts {
		return newError(KindInvalidPartSequence, nil, "part number %d out of range [1, %d]", partNumber, MaxParts)
	}
	rec, err := s.loadUploadRecord(ctx, uploadID)
	if err != nil {
		return err
	}
	if rec.State != uploadStateOpen {
		return newError(KindUploadNotOpen, nil, "upload %s is %s", uploadID, rec.State)
	}

	rec.PartsUploaded[partNumber] = etag
	rec.PartSizes[partNumber] = size
	return s.writeUploadRecord(ctx, rec)
}

// CompletedPartInput names one part in a Complete call.
type CompletedPartInput struct {
	PartNumber int32
	ETag       string
}

// Complete validates the part sequence, instructs the provider to
// assemble, writes the artifact metadata and registers the artifact in
// federation. Parts must form a contiguous 1..N sequence and every part
// except the highest-numbered one must be at least 5 MiB.
func (s *Store) Complete(ctx context.Context, uploadID string, parts []CompletedPartInput, summary string) (string, error) {
	rec, err := s.loadUploadRecord(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if rec.State != uploadStateOpen {
		return "", newError(KindUploadNotOpen, nil, "upload %s is %s", uploadID, rec.State)
	}
	if len(parts) == 0 {
		return "", newError(KindInvalidPartSequence, nil, "no parts given")
	}

	seen := make(map[int32]bool, len(parts))
	var highest int32
	for _, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > MaxParts {
			return "", newError(KindInvalidPartSequence, nil, "part number %d out of range [1, %d]", p.PartNumber, MaxParts)
		}
		if seen[p.PartNumber] {
			return "", newError(KindInvalidPartSequence, nil, "part %d listed twice", p.PartNumber)
		}
		seen[p.PartNumber] = true
		if p.PartNumber > highest {
			highest = p.PartNumber
		}
	}
	for n := int32(1); n <= highest; n++ {
		if !seen[n] {
			return "", newError(KindInvalidPartSequence, nil, "part %d missing from sequence 1..%d", n, highest)
		}
	}
	for _, p := range parts {
		size, ok := rec.PartSizes[p.PartNumber]
		if ok && p.PartNumber != highest && size < MinPartSize {
			return "", newError(KindPartTooSmall, nil, "part %d is %d bytes, below the %d byte floor", p.PartNumber, size, MinPartSize)
		}
	}

	completed := make([]storage.CompletedPart, 0, len(parts))
	var totalBytes int64
	sizesKnown := true
	for n := int32(1); n <= highest; n++ {
		etag := rec.PartsUploaded[n]
		for _, p := range parts {
			if p.PartNumber == n && p.ETag != "" {
				etag = p.ETag
			}
		}
		completed = append(completed, storage.CompletedPart{PartNumber: n, ETag: etag})
		size, ok := rec.PartSizes[n]
		if !ok {
			// Parts sent straight to a presigned URL never pass through
			// RecordPart, so their sizes are unknown here. The backend
			// enforces its own part floor for those; the final size comes
			// from a Head after assembly.
			sizesKnown = false
			continue
		}
		totalBytes += size
	}

	if _, err := s.storage.CompleteMultipartUpload(ctx, s.bucket, rec.Key, rec.ProviderUploadID, completed); err != nil {
		return "", newError(KindProviderError, err, "failed to assemble upload %s", uploadID)
	}

	if !sizesKnown {
		info, herr := s.storage.Head(ctx, s.bucket, rec.Key)
		if herr != nil {
			logger.Warn("failed to read assembled object size",
				logger.UploadID(uploadID),
				logger.Key(rec.Key),
				logger.Err(herr))
		} else {
			totalBytes = info.ContentLength
		}
	}

	md := &Metadata{
		ArtifactID:      rec.ArtifactID,
		SessionID:       rec.SessionID,
		SandboxID:       s.sandboxID,
		Scope:           rec.Scope,
		OwnerID:         rec.OwnerID,
		Key:             rec.Key,
		Mime:            rec.Mime,
		Bytes:           totalBytes,
		Summary:         summary,
		Filename:        rec.Filename,
		Meta:            rec.Meta,
		StoredAt:        time.Now().UTC(),
		TTLSeconds:      rec.TTLSeconds,
		StorageProvider: s.storage.Name(),
	}
	if err := s.writeMetadata(ctx, md); err != nil {
		return "", err
	}

	rec.State = uploadStateCompleted
	if err := s.writeUploadRecord(ctx, rec); err != nil {
		return "", err
	}
	s.registerFederation(ctx, md)

	logger.Debug("multipart upload completed",
		logger.UploadID(uploadID),
		logger.ArtifactID(rec.ArtifactID),
		logger.Bytes(totalBytes))
	return rec.ArtifactID, nil
}

// Abort cancels an open upload. Returns true on the first call from the
// open state and false thereafter; it never fails on repeated calls.
func (s *Store) Abort(ctx context.Context, uploadID string) (bool, error) {
	rec, err := s.loadUploadRecord(ctx, uploadID)
	if err != nil {
		if KindOf(err) == KindUploadNotOpen {
			return false, nil
		}
		return false, err
	}
	if rec.State != uploadStateOpen {
		return false, nil
	}

	if err := s.storage.AbortMultipartUpload(ctx, s.bucket, rec.Key, rec.ProviderUploadID); err != nil {
		return false, newError(KindProviderError, err, "failed to abort provider upload")
	}

	rec.State = uploadStateAborted
	if err := s.writeUploadRecord(ctx, rec); err != nil {
		return false, err
	}

	logger.Debug("multipart upload aborted", logger.UploadID(uploadID))
	return true, nil
}
