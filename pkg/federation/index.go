// Package federation maintains the cross-sandbox artifact location
// index. Every registration is best-effort: the index is an accelerator
// for cross-sandbox lookups, never the source of truth, and callers
// treat its failures as non-fatal.
package federation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

// DefaultTTL is the lifetime of a location record.
const DefaultTTL = 30 * 24 * time.Hour

// Key layout of the index inside the session provider.
const (
	artifactKeyPrefix = "federation:artifact:"
	sessionKeyPrefix  = "federation:session:"
	sandboxKeyPrefix  = "federation:sandbox:"
	statsKey          = "federation:stats"
)

// Location is one artifact's registered whereabouts.
type Location struct {
	ArtifactID string    `json:"artifact_id"`
	SandboxID  string    `json:"sandbox_id"`
	SessionID  string    `json:"session_id,omitempty"`
	GridKey    string    `json:"grid_key"`
	Size       int64     `json:"size"`
	Mime       string    `json:"mime,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
	Checksum   string    `json:"checksum,omitempty"`
}

// Stats is the best-effort snapshot returned by Stats. Totals are
// counted at call time; the register/unregister counters accumulate in
// the stats record and read-modify-write on them is not atomic.
type Stats struct {
	TotalArtifacts        int       `json:"total_artifacts"`
	TotalSessions         int       `json:"total_sessions"`
	TotalSandboxes        int       `json:"total_sandboxes"`
	ArtifactsRegistered   int64     `json:"artifacts_registered"`
	ArtifactsUnregistered int64     `json:"artifacts_unregistered"`
	CreatedAt             time.Time `json:"created_at"`
	LastUpdated           time.Time `json:"last_updated"`
	Timestamp             time.Time `json:"timestamp"`
}

// statsRecord is the persisted portion of Stats.
type statsRecord struct {
	ArtifactsRegistered   int64     `json:"artifacts_registered"`
	ArtifactsUnregistered int64     `json:"artifacts_unregistered"`
	CreatedAt             time.Time `json:"created_at"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Index is the federation location index.
type Index struct {
	provider session.Provider
	sets     *session.SetOps
	ttl      time.Duration
}

// New builds an Index over the given provider. ttl <= 0 selects
// DefaultTTL.
func New(provider session.Provider, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{
		provider: provider,
		sets:     session.NewSetOpsTTL(provider, ttl),
		ttl:      ttl,
	}
}

// Register writes the location record, adds the artifact to the session
// and sandbox sets and bumps the registration counter.
func (i *Index) Register(ctx context.Context, loc *Location) error {
	if loc.ArtifactID == "" || loc.SandboxID == "" {
		return errFederation(nil, "location needs artifact and sandbox ids")
	}
	if loc.StoredAt.IsZero() {
		loc.StoredAt = time.Now().UTC()
	}

	raw, err := json.Marshal(loc)
	if err != nil {
		return errFederation(err, "failed to encode location")
	}
	if err := i.provider.SetEx(ctx, artifactKeyPrefix+loc.ArtifactID, string(raw), i.ttl); err != nil {
		return errFederation(err, "failed to write location record")
	}

	if loc.SessionID != "" {
		if err := i.sets.SAdd(ctx, sessionKeyPrefix+loc.SessionID, loc.ArtifactID); err != nil {
			return errFederation(err, "failed to index by session")
		}
	}
	if err := i.sets.SAdd(ctx, sandboxKeyPrefix+loc.SandboxID, loc.ArtifactID); err != nil {
		return errFederation(err, "failed to index by sandbox")
	}

	i.bumpStats(ctx, 1, 0)
	logger.Debug("artifact registered in federation",
		logger.ArtifactID(loc.ArtifactID),
		logger.SandboxID(loc.SandboxID))
	return nil
}

// Locate returns the registered location of artifactID, or nil when the
// index has none.
func (i *Index) Locate(ctx context.Context, artifactID string) (*Location, error) {
	raw, err := i.provider.Get(ctx, artifactKeyPrefix+artifactID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, errFederation(err, "failed to read location record")
	}
	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return nil, errFederation(err, "corrupt location record for %s", artifactID)
	}
	return &loc, nil
}

// Unregister removes the location record and the secondary memberships.
// Returns false when the artifact was not registered.
func (i *Index) Unregister(ctx context.Context, artifactID string) (bool, error) {
	loc, err := i.Locate(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if loc == nil {
		return false, nil
	}

	if err := i.provider.Delete(ctx, artifactKeyPrefix+artifactID); err != nil && !session.IsNotFound(err) {
		return false, errFederation(err, "failed to delete location record")
	}
	if loc.SessionID != "" {
		if err := i.sets.SRem(ctx, sessionKeyPrefix+loc.SessionID, artifactID); err != nil {
			logger.Warn("session set cleanup failed",
				logger.ArtifactID(artifactID),
				logger.Err(err))
		}
	}
	if err := i.sets.SRem(ctx, sandboxKeyPrefix+loc.SandboxID, artifactID); err != nil {
		logger.Warn("sandbox set cleanup failed",
			logger.ArtifactID(artifactID),
			logger.Err(err))
	}

	i.bumpStats(ctx, 0, 1)
	return true, nil
}

// ListSessionLocations dereferences the session set into locations.
// Artifact ids whose records have expired are skipped.
func (i *Index) ListSessionLocations(ctx context.Context, sessionID string) ([]*Location, error) {
	ids, err := i.sets.SMembers(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, errFederation(err, "failed to read session set")
	}
	return i.dereference(ctx, ids, 0), nil
}

// SandboxArtifacts returns up to limit locations registered by a
// sandbox. limit <= 0 means no cap.
func (i *Index) SandboxArtifacts(ctx context.Context, sandboxID string, limit int) ([]*Location, error) {
	ids, err := i.sets.SMembers(ctx, sandboxKeyPrefix+sandboxID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, errFederation(err, "failed to read sandbox set")
	}
	return i.dereference(ctx, ids, limit), nil
}

func (i *Index) dereference(ctx context.Context, ids []string, limit int) []*Location {
	var out []*Location
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		loc, err := i.Locate(ctx, id)
		if err != nil || loc == nil {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// SessionDistribution maps each sandbox holding artifacts of the session
// to its artifact count.
func (i *Index) SessionDistribution(ctx context.Context, sessionID string) (map[string]int, error) {
	locs, err := i.ListSessionLocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	dist := make(map[string]int, len(locs))
	for _, loc := range locs {
		dist[loc.SandboxID]++
	}
	return dist, nil
}

// FindSessionHomeSandbox returns the sandbox holding the most artifacts
// of the session, or the empty string when none are registered.
func (i *Index) FindSessionHomeSandbox(ctx context.Context, sessionID string) (string, error) {
	dist, err := i.SessionDistribution(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var best string
	var bestN int
	for sb, n := range dist {
		if n > bestN || (n == bestN && sb < best) {
			best, bestN = sb, n
		}
	}
	return best, nil
}

// Stats returns a best-effort snapshot of the index.
func (i *Index) Stats(ctx context.Context) (*Stats, error) {
	rec := i.readStats(ctx)

	artifacts, err := i.provider.Keys(ctx, artifactKeyPrefix)
	if err != nil && !session.IsNotFound(err) {
		return nil, errFederation(err, "failed to count artifacts")
	}
	sessions, err := i.provider.Keys(ctx, sessionKeyPrefix)
	if err != nil && !session.IsNotFound(err) {
		return nil, errFederation(err, "failed to count sessions")
	}
	sandboxes, err := i.provider.Keys(ctx, sandboxKeyPrefix)
	if err != nil && !session.IsNotFound(err) {
		return nil, errFederation(err, "failed to count sandboxes")
	}

	return &Stats{
		TotalArtifacts:        len(artifacts),
		TotalSessions:         len(sessions),
		TotalSandboxes:        len(sandboxes),
		ArtifactsRegistered:   rec.ArtifactsRegistered,
		ArtifactsUnregistered: rec.ArtifactsUnregistered,
		CreatedAt:             rec.CreatedAt,
		LastUpdated:           rec.LastUpdated,
		Timestamp:             time.Now().UTC(),
	}, nil
}

func (i *Index) readStats(ctx context.Context) statsRecord {
	raw, err := i.provider.Get(ctx, statsKey)
	if err != nil {
		return statsRecord{CreatedAt: time.Now().UTC()}
	}
	var rec statsRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return statsRecord{CreatedAt: time.Now().UTC()}
	}
	return rec
}

// bumpStats increments the counters. Losing an increment under
// contention is acceptable; the counters are advisory.
func (i *Index) bumpStats(ctx context.Context, registered, unregistered int64) {
	rec := i.readStats(ctx)
	rec.ArtifactsRegistered += registered
	rec.ArtifactsUnregistered += unregistered
	rec.LastUpdated = time.Now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := i.provider.SetEx(ctx, statsKey, string(raw), 0); err != nil {
		logger.Warn("federation stats update failed", logger.Err(err))
	}
}
