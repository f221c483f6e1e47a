package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// UpdateFile rewrites the object at the artifact's existing grid key and
// updates the metadata record last, so a failed object write leaves the
// old record intact.
func (s *Store) UpdateFile(ctx context.Context, artifactID string, data []byte, mime, summary, filename string, meta map[string]string) error {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return err
	}

	if data != nil {
		if mime == "" {
			mime = md.Mime
		}
		err = withRetry(ctx, s.retry, "put_object", func() error {
			_, perr := s.storage.Put(ctx, storage.PutInput{
				Bucket:      s.bucket,
				Key:         md.Key,
				Body:        data,
				ContentType: mime,
				Metadata: map[string]string{
					"artifact_id": md.ArtifactID,
					"session_id":  md.SessionID,
					"sandbox_id":  md.SandboxID,
				},
			})
			return perr
		})
		if err != nil {
			return newError(KindProviderError, err, "failed to rewrite object for %s", artifactID)
		}
		sum := sha256.Sum256(data)
		md.Bytes = int64(len(data))
		md.SHA256 = hex.EncodeToString(sum[:])
	}

	if mime != "" {
		md.Mime = mime
	}
	if summary != "" {
		md.Summary = summary
	}
	if filename != "" {
		md.Filename = filename
	}
	if len(meta) > 0 {
		if md.Meta == nil {
			md.Meta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			md.Meta[k] = v
		}
	}
	return s.writeMetadata(ctx, md)
}

// CopyFile duplicates an artifact within its session and returns the new
// artifact id. Cross-session copies are refused without touching any
// state.
func (s *Store) CopyFile(ctx context.Context, artifactID, newFilename, targetSessionID string, newMeta map[string]string) (string, error) {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return "", err
	}
	if targetSessionID != "" && targetSessionID != md.SessionID {
		return "", newError(KindAccessDenied, nil, "cross-session copy of %s is not allowed", artifactID)
	}

	parsed, err := grid.Parse(md.Key)
	if err != nil {
		return "", newError(KindMalformedKey, err, "stored key for %s is malformed", artifactID)
	}

	newID := grid.NewID()
	newKey, err := grid.Build(parsed.SandboxID, parsed.ScopeMarker, newID)
	if err != nil {
		return "", newError(KindMalformedKey, err, "failed to build grid key")
	}

	err = withRetry(ctx, s.retry, "copy_object", func() error {
		_, cerr := s.storage.Copy(ctx, s.bucket, md.Key, newKey)
		return cerr
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return "", newError(KindNotFound, err, "object for artifact %s is missing", artifactID)
		}
		return "", newError(KindProviderError, err, "failed to copy object for %s", artifactID)
	}

	newMD := *md
	newMD.ArtifactID = newID
	newMD.Key = newKey
	newMD.StoredAt = time.Now().UTC()
	if newFilename != "" {
		newMD.Filename = newFilename
	}
	if newMeta != nil {
		newMD.Meta = newMeta
	}

	if err := s.writeMetadata(ctx, &newMD); err != nil {
		if derr := s.storage.Delete(ctx, s.bucket, newKey); derr != nil {
			return "", newError(KindProviderError, derr, "rollback delete failed for %s", newID)
		}
		return "", err
	}
	s.registerFederation(ctx, &newMD)
	return newID, nil
}

// MoveFile renames an artifact within its session. The grid key is
// unchanged; only the filename in metadata moves. Cross-session moves are
// refused.
func (s *Store) MoveFile(ctx context.Context, artifactID, newFilename, newSessionID string) error {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return err
	}
	if newSessionID != "" && newSessionID != md.SessionID {
		return newError(KindAccessDenied, nil, "cross-session move of %s is not allowed", artifactID)
	}
	if newFilename != "" {
		md.Filename = newFilename
	}
	return s.writeMetadata(ctx, md)
}

// WriteFile stores content under a filename, or overwrites an existing
// artifact when overwriteArtifactID is given. Overwriting an artifact from
// another session fails without side effects.
func (s *Store) WriteFile(ctx context.Context, content []byte, filename, mime, summary, sessionID, overwriteArtifactID string, meta map[string]string) (string, error) {
	if overwriteArtifactID != "" {
		md, err := s.readMetadata(ctx, overwriteArtifactID)
		if err != nil {
			return "", err
		}
		if sessionID != "" && sessionID != md.SessionID {
			return "", newError(KindAccessDenied, nil, "artifact %s belongs to another session", overwriteArtifactID)
		}
		if err := s.UpdateFile(ctx, overwriteArtifactID, content, mime, summary, filename, meta); err != nil {
			return "", err
		}
		return overwriteArtifactID, nil
	}

	return s.Store(ctx, StoreInput{
		Data:      content,
		Mime:      mime,
		Summary:   summary,
		Meta:      meta,
		Filename:  filename,
		SessionID: sessionID,
		Scope:     grid.ScopeSession,
	})
}

// ReadFile retrieves an artifact's bytes.
func (s *Store) ReadFile(ctx context.Context, artifactID, sessionID, userID string) ([]byte, error) {
	return s.Retrieve(ctx, artifactID, sessionID, userID)
}

// ReadText retrieves an artifact and decodes it as UTF-8 text.
func (s *Store) ReadText(ctx context.Context, artifactID, sessionID, userID string) (string, error) {
	data, err := s.Retrieve(ctx, artifactID, sessionID, userID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListBySession returns the metadata of artifacts stored under sessionID,
// newest last, up to limit.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Metadata, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.sessionArtifactIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]*Metadata, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		md, err := s.readMetadata(ctx, id)
		if err != nil {
			if KindOf(err) == KindNotFound {
				// Expired record still referenced by the index set.
				continue
			}
			return nil, err
		}
		out = append(out, md)
	}
	return out, nil
}

// sessionArtifactIDs resolves the artifact ids of one session, preferring
// the provider's prefix enumeration and falling back to the per-session
// index set.
func (s *Store) sessionArtifactIDs(ctx context.Context, sessionID string) ([]string, error) {
	members, err := s.sessionSets.SMembers(ctx, sessionIndexKey(sessionID))
	if err == nil && len(members) > 0 {
		return members, nil
	}

	keys, kerr := s.sessions.Keys(ctx, metadataPrefix)
	if kerr != nil {
		if err != nil {
			return nil, newError(KindProviderError, err, "failed to list artifacts for session %s", sessionID)
		}
		return members, nil
	}

	var ids []string
	for _, k := range keys {
		id := strings.TrimPrefix(k, metadataPrefix)
		md, merr := s.readMetadata(ctx, id)
		if merr != nil {
			continue
		}
		if md.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ListByPrefix returns session artifacts whose filename starts with
// prefix.
func (s *Store) ListByPrefix(ctx context.Context, sessionID, prefix string, limit int) ([]*Metadata, error) {
	all, err := s.ListBySession(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	out := make([]*Metadata, 0, limit)
	for _, md := range all {
		if len(out) >= limit {
			break
		}
		if strings.HasPrefix(md.Filename, prefix) {
			out = append(out, md)
		}
	}
	return out, nil
}

// GetDirectoryContents returns session artifacts whose filename lives
// directly or transitively under dir.
func (s *Store) GetDirectoryContents(ctx context.Context, sessionID, dir string) ([]*Metadata, error) {
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return s.ListByPrefix(ctx, sessionID, dir, 0)
}

// SearchFilter is the conjunction of predicates applied by Search. Zero
// values are wildcards.
type SearchFilter struct {
	UserID     string
	SessionID  string
	Scope      grid.Scope
	MimePrefix string
	MetaFilter map[string]string
}

// Search scans metadata records and returns those matching every supplied
// predicate. The scan is linear in the number of records; acceptable for
// the in-process providers this path targets.
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Metadata, error) {
	keys, err := s.sessions.Keys(ctx, metadataPrefix)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, newError(KindProviderError, err, "failed to enumerate metadata records")
	}

	var out []*Metadata
	for _, k := range keys {
		md, merr := s.readMetadata(ctx, strings.TrimPrefix(k, metadataPrefix))
		if merr != nil {
			continue
		}
		if filter.UserID != "" && md.OwnerID != filter.UserID {
			continue
		}
		if filter.SessionID != "" && md.SessionID != filter.SessionID {
			continue
		}
		if filter.Scope != "" && md.Scope != filter.Scope {
			continue
		}
		if filter.MimePrefix != "" && !strings.HasPrefix(md.Mime, filter.MimePrefix) {
			continue
		}
		if !matchMeta(md.Meta, filter.MetaFilter) {
			continue
		}
		out = append(out, md)
	}
	return out, nil
}

func matchMeta(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
