package artifact

import (
	"context"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Presign duration tiers.
const (
	PresignShort  = 900 * time.Second
	PresignMedium = 3600 * time.Second
	PresignLong   = 86400 * time.Second
)

// Presign returns a time-bounded download URL for an artifact. The URL's
// scheme depends on the provider: https for S3-class providers, a token
// URL (memory://, file://, sqlite://) for local ones.
func (s *Store) Presign(ctx context.Context, artifactID string, duration time.Duration) (string, error) {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return "", err
	}

	var url string
	err = withRetry(ctx, s.retry, "presign_get", func() error {
		var perr error
		url, perr = s.storage.PresignGet(ctx, s.bucket, md.Key, duration)
		return perr
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return "", newError(KindNotFound, err, "object for artifact %s is missing", artifactID)
		}
		return "", newError(KindProviderError, err, "failed to presign download for %s", artifactID)
	}
	return url, nil
}

// PresignShortURL presigns a download for 15 minutes.
func (s *Store) PresignShortURL(ctx context.Context, artifactID string) (string, error) {
	return s.Presign(ctx, artifactID, PresignShort)
}

// PresignMediumURL presigns a download for one hour.
func (s *Store) PresignMediumURL(ctx context.Context, artifactID string) (string, error) {
	return s.Presign(ctx, artifactID, PresignMedium)
}

// PresignLongURL presigns a download for one day.
func (s *Store) PresignLongURL(ctx context.Context, artifactID string) (string, error) {
	return s.Presign(ctx, artifactID, PresignLong)
}

// PresignUpload reserves an artifact id and returns a PUT URL for it. The
// metadata record is not created until RegisterUploaded confirms the
// upload; until then the id resolves to nothing.
func (s *Store) PresignUpload(ctx context.Context, sessionID, filename, mime string, duration time.Duration) (artifactID, url string, err error) {
	in := StoreInput{SessionID: sessionID, Scope: grid.ScopeSession, Mime: mime, Filename: filename}
	owner, err := s.normalize(ctx, &in)
	if err != nil {
		return "", "", err
	}
	marker, err := in.Scope.Marker(owner)
	if err != nil {
		return "", "", newError(KindMalformedKey, err, "invalid scope marker")
	}

	artifactID = grid.NewID()
	key, err := grid.Build(s.sandboxID, marker, artifactID)
	if err != nil {
		return "", "", newError(KindMalformedKey, err, "failed to build grid key")
	}

	err = withRetry(ctx, s.retry, "presign_put", func() error {
		var perr error
		url, perr = s.storage.PresignPut(ctx, s.bucket, key, duration)
		return perr
	})
	if err != nil {
		return "", "", newError(KindProviderError, err, "failed to presign upload")
	}

	// Stash a pending record so RegisterUploaded can recover the key,
	// session and filename without trusting the caller.
	pending := &Metadata{
		ArtifactID: artifactID,
		SessionID:  in.SessionID,
		SandboxID:  s.sandboxID,
		Scope:      in.Scope,
		Key:        key,
		Mime:       mime,
		Filename:   filename,
		StoredAt:   time.Now().UTC(),
		TTLSeconds: int64(in.TTL.Seconds()),
		Meta:       map[string]string{"pending_upload": "true"},
	}
	pending.StorageProvider = s.storage.Name()
	if err := s.writeMetadata(ctx, pending); err != nil {
		return "", "", err
	}

	logger.Debug("upload presigned",
		logger.ArtifactID(artifactID),
		logger.SessionID(in.SessionID),
		logger.Key(key))
	return artifactID, url, nil
}

// PresignShortUpload presigns an upload for 15 minutes.
func (s *Store) PresignShortUpload(ctx context.Context, sessionID, filename, mime string) (string, string, error) {
	return s.PresignUpload(ctx, sessionID, filename, mime, PresignShort)
}

// PresignMediumUpload presigns an upload for one hour.
func (s *Store) PresignMediumUpload(ctx context.Context, sessionID, filename, mime string) (string, string, error) {
	return s.PresignUpload(ctx, sessionID, filename, mime, PresignMedium)
}

// PresignLongUpload presigns an upload for one day.
func (s *Store) PresignLongUpload(ctx context.Context, sessionID, filename, mime string) (string, string, error) {
	return s.PresignUpload(ctx, sessionID, filename, mime, PresignLong)
}

// RegisterUploaded finalizes the metadata of an artifact uploaded through
// a presigned PUT URL. The object must exist; its size is read back from
// the provider. Federation registration happens only here, never at
// presign time.
func (s *Store) RegisterUploaded(ctx context.Context, artifactID string, sha256sum string) (*Metadata, error) {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	var info *storage.ObjectInfo
	err = withRetry(ctx, s.retry, "head_object", func() error {
		var herr error
		info, herr = s.storage.Head(ctx, s.bucket, md.Key)
		return herr
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, newError(KindNotFound, err, "no object was uploaded for %s", artifactID)
		}
		return nil, newError(KindProviderError, err, "failed to verify upload for %s", artifactID)
	}

	md.Bytes = info.ContentLength
	md.SHA256 = sha256sum
	md.StoredAt = time.Now().UTC()
	delete(md.Meta, "pending_upload")
	if len(md.Meta) == 0 {
		md.Meta = nil
	}
	if err := s.writeMetadata(ctx, md); err != nil {
		return nil, err
	}

	s.registerFederation(ctx, md)
	return md, nil
}
