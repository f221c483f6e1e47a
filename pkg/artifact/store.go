// Package artifact implements the ArtifactStore coordinator: the public
// operation set over one storage provider and one session provider, bound
// to a single sandbox identity.
//
// Every operation validates its inputs, enforces the scope check, retries
// transient provider errors with exponential backoff and keeps the object
// and its metadata record consistent (metadata is deleted first on delete;
// on store, a failed metadata write triggers a best-effort object delete).
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/internal/telemetry"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
	sessmgr "github.com/marmos91/artifactgrid/pkg/session"
)

// maxSingleShot is the size ceiling for single-request stores.
const maxSingleShot = 5 * 1024 * 1024 * 1024 // 5 GiB

// FederationRegistrar receives best-effort notifications about stored and
// deleted artifacts. Failures are logged and swallowed; they never fail
// the primary operation.
type FederationRegistrar interface {
	RegisterArtifact(ctx context.Context, md *Metadata) error
	UnregisterArtifact(ctx context.Context, artifactID string) error
}

// Observer receives operation timings. The Prometheus implementation lives
// in pkg/metrics.
type Observer interface {
	ObserveOperation(op string, d time.Duration, err error)
	ObserveBytes(op string, n int64)
}

// Config configures an ArtifactStore.
type Config struct {
	// SandboxID roots every key the store writes. Required.
	SandboxID string

	// Storage is the object storage provider. Required.
	Storage storage.Provider

	// Sessions is the TTL key-value provider for session records, artifact
	// metadata and the federation index. Required.
	Sessions session.Provider

	// Bucket is the bucket (or root directory) objects live in. Required.
	Bucket string

	// DefaultTTL is the lifetime for session-scoped artifacts when none is
	// given. Default: 900s.
	DefaultTTL time.Duration

	// MaxRetries caps retry attempts for transient provider errors.
	// Default: 3.
	MaxRetries uint

	// SessionManager validates and allocates sessions. When nil, a manager
	// is created over Sessions.
	SessionManager *sessmgr.Manager

	// Federation, when non-nil, receives best-effort location
	// registrations.
	Federation FederationRegistrar

	// Metrics, when non-nil, receives operation timings.
	Metrics Observer
}

// Store is the artifact storage coordinator.
type Store struct {
	sandboxID   string
	storage     storage.Provider
	sessions    session.Provider
	sessionSets *session.SetOps
	bucket      string
	defaultTTL  time.Duration
	retry       retryConfig
	sessionMgr  *sessmgr.Manager
	federation  FederationRegistrar
	metrics     Observer
}

// New creates an ArtifactStore and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.SandboxID == "" {
		return nil, newError(KindConfigurationError, nil, "sandbox id is required")
	}
	if cfg.Storage == nil {
		return nil, newError(KindConfigurationError, nil, "storage provider is required")
	}
	if cfg.Sessions == nil {
		return nil, newError(KindConfigurationError, nil, "session provider is required")
	}
	if cfg.Bucket == "" {
		return nil, newError(KindConfigurationError, nil, "bucket is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = sessmgr.DefaultTTL
	}

	retry := defaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.maxRetries = cfg.MaxRetries
	}
	mgr := cfg.SessionManager
	if mgr == nil {
		mgr = sessmgr.NewManager(cfg.SandboxID, cfg.Sessions)
	}

	s := &Store{
		sandboxID:   cfg.SandboxID,
		storage:     cfg.Storage,
		sessions:    cfg.Sessions,
		sessionSets: session.NewSetOps(cfg.Sessions),
		bucket:      cfg.Bucket,
		defaultTTL:  cfg.DefaultTTL,
		retry:       retry,
		sessionMgr:  mgr,
		federation:  cfg.Federation,
		metrics:     cfg.Metrics,
	}
	if err := s.storage.HeadBucket(ctx, s.bucket); err != nil {
		return nil, newError(KindConfigurationError, err, "bucket %q is not accessible", s.bucket)
	}
	return s, nil
}

// SandboxID returns the sandbox identity this store is bound to.
func (s *Store) SandboxID() string { return s.sandboxID }

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Sessions returns the session manager bound to this store.
func (s *Store) Sessions() *sessmgr.Manager { return s.sessionMgr }

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), err)
	}
}

// StoreInput carries the parameters of a Store call.
type StoreInput struct {
	Data      []byte
	Mime      string
	Summary   string
	Meta      map[string]string
	Filename  string
	SessionID string
	UserID    string
	Scope     grid.Scope
	TTL       time.Duration
}

// normalize validates the input, applies scope defaults and resolves or
// allocates the session. Returns the final scope, session id and key
// marker owner.
func (s *Store) normalize(ctx context.Context, in *StoreInput) (string, error) {
	if in.Scope == "" {
		in.Scope = grid.ScopeSession
	}
	if !in.Scope.Valid() {
		return "", newError(KindMalformedKey, nil, "unknown scope %q", in.Scope)
	}
	if in.Scope == grid.ScopeUser && in.UserID == "" {
		return "", newError(KindAccessDenied, nil, "user scope requires a user id")
	}
	if in.TTL <= 0 {
		in.TTL = s.defaultTTL
	}

	if in.Scope == grid.ScopeSession && in.SessionID == "" {
		id, err := s.sessionMgr.Allocate(ctx, in.UserID, in.TTL, nil)
		if err != nil {
			return "", newError(KindSessionError, err, "failed to allocate session")
		}
		in.SessionID = id
	}

	switch in.Scope {
	case grid.ScopeSession:
		return in.SessionID, nil
	case grid.ScopeUser:
		return in.UserID, nil
	default:
		return "", nil
	}
}

// Store stores a blob and returns its artifact id.
func (s *Store) Store(ctx context.Context, in StoreInput) (id string, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "store")
	defer span.End()
	start := time.Now()
	defer func() { s.observe("store", start, err) }()

	if int64(len(in.Data)) > maxSingleShot {
		return "", newError(KindProviderError, nil, "payload of %d bytes exceeds the single-shot limit", len(in.Data))
	}
	if in.Mime == "" {
		return "", newError(KindMalformedKey, nil, "mime type is required")
	}

	owner, err := s.normalize(ctx, &in)
	if err != nil {
		return "", err
	}
	marker, err := in.Scope.Marker(owner)
	if err != nil {
		return "", newError(KindMalformedKey, err, "invalid scope marker")
	}

	artifactID := grid.NewID()
	key, err := grid.Build(s.sandboxID, marker, artifactID)
	if err != nil {
		return "", newError(KindMalformedKey, err, "failed to build grid key")
	}

	sum := sha256.Sum256(in.Data)
	md := &Metadata{
		ArtifactID:      artifactID,
		SessionID:       in.SessionID,
		SandboxID:       s.sandboxID,
		Scope:           in.Scope,
		OwnerID:         in.UserID,
		Key:             key,
		Mime:            in.Mime,
		Bytes:           int64(len(in.Data)),
		SHA256:          hex.EncodeToString(sum[:]),
		Summary:         in.Summary,
		Filename:        in.Filename,
		Meta:            in.Meta,
		StoredAt:        time.Now().UTC(),
		TTLSeconds:      int64(in.TTL.Seconds()),
		StorageProvider: s.storage.Name(),
	}

	err = withRetry(ctx, s.retry, "put_object", func() error {
		_, perr := s.storage.Put(ctx, storage.PutInput{
			Bucket:      s.bucket,
			Key:         key,
			Body:        in.Data,
			ContentType: in.Mime,
			Metadata: map[string]string{
				"artifact_id": artifactID,
				"session_id":  in.SessionID,
				"sandbox_id":  s.sandboxID,
			},
		})
		return perr
	})
	if err != nil {
		return "", newError(KindProviderError, err, "failed to store object %s", artifactID)
	}

	if err := s.writeMetadata(ctx, md); err != nil {
		// The object exists but its record does not; remove the object so
		// no unreachable bytes are left behind.
		if derr := s.storage.Delete(ctx, s.bucket, key); derr != nil {
			logger.Error("rollback delete failed after metadata write failure",
				logger.ArtifactID(artifactID),
				logger.Key(key),
				logger.Err(derr))
		}
		return "", err
	}

	s.registerFederation(ctx, md)

	logger.Debug("artifact stored",
		logger.ArtifactID(artifactID),
		logger.Key(key),
		logger.Scope(string(in.Scope)),
		logger.Bytes(md.Bytes))
	if s.metrics != nil {
		s.metrics.ObserveBytes("store", md.Bytes)
	}
	return artifactID, nil
}

// registerFederation notifies the federation index, logging and swallowing
// any failure.
func (s *Store) registerFederation(ctx context.Context, md *Metadata) {
	if s.federation == nil {
		return
	}
	if err := s.federation.RegisterArtifact(ctx, md); err != nil {
		logger.Warn("federation registration failed",
			logger.ArtifactID(md.ArtifactID),
			logger.Err(err))
	}
}

func (s *Store) unregisterFederation(ctx context.Context, artifactID string) {
	if s.federation == nil {
		return
	}
	if err := s.federation.UnregisterArtifact(ctx, artifactID); err != nil {
		logger.Warn("federation unregistration failed",
			logger.ArtifactID(artifactID),
			logger.Err(err))
	}
}

// checkScope enforces the read/write scope rules for an artifact.
func checkScope(md *Metadata, sessionID, userID string) error {
	switch md.Scope {
	case grid.ScopeSession:
		// An absent session id means a trusted internal caller.
		if sessionID != "" && sessionID != md.SessionID {
			return newError(KindAccessDenied, nil, "artifact %s belongs to another session", md.ArtifactID)
		}
	case grid.ScopeUser:
		if userID == "" || userID != md.OwnerID {
			return newError(KindAccessDenied, nil, "artifact %s belongs to another user", md.ArtifactID)
		}
	case grid.ScopeSandbox:
		// Sandbox-scoped artifacts are readable by anyone in the sandbox.
	}
	return nil
}

// Retrieve returns the artifact's bytes after passing the scope check.
func (s *Store) Retrieve(ctx context.Context, artifactID, sessionID, userID string) (data []byte, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "retrieve")
	defer span.End()
	start := time.Now()
	defer func() { s.observe("retrieve", start, err) }()

	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if err := checkScope(md, sessionID, userID); err != nil {
		return nil, err
	}

	var obj *storage.Object
	err = withRetry(ctx, s.retry, "get_object", func() error {
		var gerr error
		obj, gerr = s.storage.Get(ctx, s.bucket, md.Key)
		return gerr
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, newError(KindNotFound, err, "object for artifact %s is missing", artifactID)
		}
		return nil, newError(KindProviderError, err, "failed to read object for %s", artifactID)
	}
	if s.metrics != nil {
		s.metrics.ObserveBytes("retrieve", int64(len(obj.Body)))
	}
	return obj.Body, nil
}

// Metadata returns the artifact's metadata record. No scope check: the
// record carries no payload.
func (s *Store) Metadata(ctx context.Context, artifactID string) (*Metadata, error) {
	return s.readMetadata(ctx, artifactID)
}

// Exists reports whether the artifact's metadata record is present.
func (s *Store) Exists(ctx context.Context, artifactID string) (bool, error) {
	_, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes an artifact. Sandbox-scoped artifacts are refused; use
// AdminDeleteSandboxArtifact. The object is deleted first so a failure
// leaves the metadata record in place and the artifact still discoverable.
func (s *Store) Delete(ctx context.Context, artifactID, sessionID, userID string) (ok bool, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "delete")
	defer span.End()
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if md.Scope == grid.ScopeSandbox {
		return false, newError(KindAccessDenied, nil, "sandbox-scoped artifact %s cannot be deleted through the public path", artifactID)
	}
	if err := checkScope(md, sessionID, userID); err != nil {
		return false, err
	}
	return s.deleteArtifact(ctx, md)
}

// AdminDeleteSandboxArtifact deletes a sandbox-scoped artifact. This is the
// maintenance path; it skips the scope refusal but still verifies the
// artifact belongs to this sandbox.
func (s *Store) AdminDeleteSandboxArtifact(ctx context.Context, artifactID string) (bool, error) {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if md.SandboxID != s.sandboxID {
		return false, newError(KindAccessDenied, nil, "artifact %s belongs to sandbox %s", artifactID, md.SandboxID)
	}
	return s.deleteArtifact(ctx, md)
}

func (s *Store) deleteArtifact(ctx context.Context, md *Metadata) (bool, error) {
	err := withRetry(ctx, s.retry, "delete_object", func() error {
		return s.storage.Delete(ctx, s.bucket, md.Key)
	})
	if err != nil {
		return false, newError(KindProviderError, err, "failed to delete object for %s", md.ArtifactID)
	}
	if err := s.deleteMetadata(ctx, md); err != nil {
		return false, err
	}
	s.unregisterFederation(ctx, md.ArtifactID)

	logger.Debug("artifact deleted",
		logger.ArtifactID(md.ArtifactID),
		logger.Key(md.Key))
	return true, nil
}

// UpdateMetadata patches metadata-only fields. Empty values leave the
// corresponding field unchanged; Meta entries are merged.
func (s *Store) UpdateMetadata(ctx context.Context, artifactID, summary, mime, filename string, meta map[string]string) error {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return err
	}

	if summary != "" {
		md.Summary = summary
	}
	if mime != "" {
		md.Mime = mime
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

// ExtendTTL re-writes the metadata record with an extended TTL. The
// object's provider-side lifetime is unchanged; providers do not offer a
// universal object TTL.
func (s *Store) ExtendTTL(ctx context.Context, artifactID string, additional time.Duration) error {
	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return err
	}
	md.TTLSeconds += int64(additional.Seconds())
	return s.writeMetadata(ctx, md)
}
