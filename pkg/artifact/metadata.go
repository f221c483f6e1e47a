package artifact

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

// metadataPrefix is prepended to artifact ids to form provider keys.
const metadataPrefix = "artifact:"

// sessionIndexPrefix keys the per-session artifact-id set used when the
// session provider cannot enumerate keys by prefix.
const sessionIndexPrefix = "artifact-session:"

// Metadata is the per-artifact record stored in the session provider.
type Metadata struct {
	ArtifactID      string            `json:"artifact_id"`
	SessionID       string            `json:"session_id,omitempty"`
	SandboxID       string            `json:"sandbox_id"`
	Scope           grid.Scope        `json:"scope"`
	OwnerID         string            `json:"owner_id,omitempty"`
	Key             string            `json:"key"`
	Mime            string            `json:"mime"`
	Bytes           int64             `json:"bytes"`
	SHA256          string            `json:"sha256,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Filename        string            `json:"filename,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
	StoredAt        time.Time         `json:"stored_at"`
	TTLSeconds      int64             `json:"ttl"`
	StorageProvider string            `json:"storage_provider"`
	SessionProvider string            `json:"session_provider,omitempty"`
}

func metadataKey(artifactID string) string {
	return metadataPrefix + artifactID
}

func sessionIndexKey(sessionID string) string {
	return sessionIndexPrefix + sessionID
}

// readMetadata loads and decodes the metadata record for artifactID.
func (s *Store) readMetadata(ctx context.Context, artifactID string) (*Metadata, error) {
	raw, err := s.sessions.Get(ctx, metadataKey(artifactID))
	if err != nil {
		if session.IsNotFound(err) {
			return nil, newError(KindNotFound, nil, "artifact %s not found", artifactID)
		}
		return nil, newError(KindProviderError, err, "failed to read metadata for %s", artifactID)
	}

	var md Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, newError(KindProviderError, err, "corrupt metadata record for %s", artifactID)
	}
	return &md, nil
}

// writeMetadata persists md with its TTL and maintains the per-session
// index set.
func (s *Store) writeMetadata(ctx context.Context, md *Metadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return newError(KindProviderError, err, "failed to encode metadata for %s", md.ArtifactID)
	}

	ttl := time.Duration(md.TTLSeconds) * time.Second
	if err := s.sessions.SetEx(ctx, metadataKey(md.ArtifactID), string(raw), ttl); err != nil {
		return newError(KindProviderError, err, "failed to write metadata for %s", md.ArtifactID)
	}

	if md.SessionID != "" {
		if err := s.sessionSets.SAdd(ctx, sessionIndexKey(md.SessionID), md.ArtifactID); err != nil {
			return newError(KindProviderError, err, "failed to index %s under session %s", md.ArtifactID, md.SessionID)
		}
	}
	return nil
}

// deleteMetadata removes the record and its session index entry.
func (s *Store) deleteMetadata(ctx context.Context, md *Metadata) error {
	if err := s.sessions.Delete(ctx, metadataKey(md.ArtifactID)); err != nil {
		return newError(KindProviderError, err, "failed to delete metadata for %s", md.ArtifactID)
	}
	if md.SessionID != "" {
		if err := s.sessionSets.SRem(ctx, sessionIndexKey(md.SessionID), md.ArtifactID); err != nil {
			return newError(KindProviderError, err, "failed to unindex %s from session %s", md.ArtifactID, md.SessionID)
		}
	}
	return nil
}
