// Package namespace provides the unified addressing layer over blob and
// workspace storage. A namespace is either a single payload (BLOB) or a
// file tree (WORKSPACE); both live under a grid path and share scope
// rules with plain artifacts, but namespace ids and artifact ids are
// separate registries.
package namespace

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/artifact"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Type distinguishes the two namespace shapes.
type Type string

const (
	// TypeBlob is a single-payload namespace holding exactly _data and
	// _meta.json.
	TypeBlob Type = "BLOB"

	// TypeWorkspace is a file-tree namespace of arbitrary depth.
	TypeWorkspace Type = "WORKSPACE"
)

// Reserved object names inside a namespace.
const (
	blobDataName = "_data"
	blobMetaName = "_meta.json"

	// dirMarkerName realizes empty directories on flat object stores.
	dirMarkerName = ".dir"

	// checkpointDir holds snapshots; excluded from live-content listings.
	checkpointDir = "_checkpoints"
)

// recordPrefix keys namespace records in the session provider.
const recordPrefix = "namespace:"

// Info is the persisted namespace record.
type Info struct {
	NamespaceID  string     `json:"namespace_id"`
	Type         Type       `json:"type"`
	Name         string     `json:"name,omitempty"`
	Scope        grid.Scope `json:"scope"`
	SandboxID    string     `json:"sandbox_id"`
	SessionID    string     `json:"session_id,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	GridPath     string     `json:"grid_path"`
	ProviderType string     `json:"provider_type"`
	CreatedAt    time.Time  `json:"created_at"`
}

// blobMeta is the _meta.json sidecar of a BLOB namespace.
type blobMeta struct {
	Mime      string            `json:"mime,omitempty"`
	Bytes     int64             `json:"bytes"`
	Meta      map[string]string `json:"meta,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Config assembles a Registry.
type Config struct {
	SandboxID string
	Storage   storage.Provider
	Sessions  session.Provider
	Bucket    string
}

// Registry manages namespace records and their provider objects.
type Registry struct {
	sandboxID string
	storage   storage.Provider
	sessions  session.Provider
	bucket    string
}

// New builds a Registry. The bucket must already be reachable.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.SandboxID == "" {
		return nil, nsError(artifact.KindConfigurationError, nil, "sandbox id is required")
	}
	if cfg.Storage == nil || cfg.Sessions == nil {
		return nil, nsError(artifact.KindConfigurationError, nil, "storage and session providers are required")
	}
	if cfg.Bucket == "" {
		return nil, nsError(artifact.KindConfigurationError, nil, "bucket is required")
	}
	if err := cfg.Storage.HeadBucket(ctx, cfg.Bucket); err != nil {
		return nil, nsError(artifact.KindConfigurationError, err, "bucket %q is not reachable", cfg.Bucket)
	}
	return &Registry{
		sandboxID: cfg.SandboxID,
		storage:   cfg.Storage,
		sessions:  cfg.Sessions,
		bucket:    cfg.Bucket,
	}, nil
}

func nsError(kind artifact.Kind, cause error, format string, args ...any) *artifact.Error {
	return &artifact.Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// CreateInput carries the parameters of a CreateNamespace call.
type CreateInput struct {
	Type         Type
	Scope        grid.Scope
	Name         string
	UserID       string
	SessionID    string
	ProviderType string
}

// CreateNamespace allocates a namespace id, computes its grid path and
// persists the record. No objects are written until the first write.
func (r *Registry) CreateNamespace(ctx context.Context, in CreateInput) (*Info, error) {
	if in.Type != TypeBlob && in.Type != TypeWorkspace {
		return nil, nsError(artifact.KindConfigurationError, nil, "unknown namespace type %q", in.Type)
	}
	scope := in.Scope
	if scope == "" {
		scope = grid.ScopeSession
	}
	if !scope.Valid() {
		return nil, nsError(artifact.KindMalformedKey, nil, "unknown scope %q", scope)
	}
	if scope == grid.ScopeUser && in.UserID == "" {
		return nil, nsError(artifact.KindAccessDenied, nil, "user scope requires a user id")
	}
	if scope == grid.ScopeSession && in.SessionID == "" {
		in.SessionID = grid.NewID()
	}

	var owner string
	switch scope {
	case grid.ScopeSession:
		owner = in.SessionID
	case grid.ScopeUser:
		owner = in.UserID
	}
	marker, err := scope.Marker(owner)
	if err != nil {
		return nil, nsError(artifact.KindMalformedKey, err, "invalid scope marker")
	}

	nsID := grid.NewID()
	gridPath, err := grid.Build(r.sandboxID, marker, nsID)
	if err != nil {
		return nil, nsError(artifact.KindMalformedKey, err, "failed to build grid path")
	}

	providerType := in.ProviderType
	if providerType == "" {
		providerType = r.storage.Name()
	}
	info := &Info{
		NamespaceID:  nsID,
		Type:         in.Type,
		Name:         in.Name,
		Scope:        scope,
		SandboxID:    r.sandboxID,
		SessionID:    in.SessionID,
		UserID:       in.UserID,
		GridPath:     gridPath,
		ProviderType: providerType,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.writeRecord(ctx, info); err != nil {
		return nil, err
	}

	logger.Debug("namespace created",
		logger.NamespaceID(nsID),
		logger.Scope(string(scope)),
		logger.Key(gridPath))
	return info, nil
}

func (r *Registry) writeRecord(ctx context.Context, info *Info) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return nsError(artifact.KindProviderError, err, "failed to encode namespace record")
	}
	// Namespace records do not expire on their own; destroy removes them.
	if err := r.sessions.SetEx(ctx, recordPrefix+info.NamespaceID, string(raw), 0); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to write namespace record")
	}
	return nil
}

// Get returns the namespace record for nsID.
func (r *Registry) Get(ctx context.Context, nsID string) (*Info, error) {
	raw, err := r.sessions.Get(ctx, recordPrefix+nsID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nsError(artifact.KindNotFound, nil, "namespace %s does not exist", nsID)
		}
		return nil, nsError(artifact.KindProviderError, err, "failed to read namespace record %s", nsID)
	}
	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, nsError(artifact.KindProviderError, err, "corrupt namespace record %s", nsID)
	}
	return &info, nil
}

// objectKey maps a namespace-relative path onto a provider key.
func objectKey(gridPath, rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	return gridPath + "/" + rel
}

// WriteNamespace writes payload bytes into the namespace.
//
// For BLOB namespaces path must be empty or "/_data"; the payload lands
// at _data with _meta.json updated alongside. For WORKSPACE namespaces
// path is required and intermediate directories are created implicitly.
func (r *Registry) WriteNamespace(ctx context.Context, nsID string, data []byte, path, mime string) error {
	info, err := r.Get(ctx, nsID)
	if err != nil {
		return err
	}

	switch info.Type {
	case TypeBlob:
		if path != "" && path != "/"+blobDataName && path != blobDataName {
			return nsError(artifact.KindMalformedKey, nil, "blob namespaces accept only the %s path", blobDataName)
		}
		return r.writeBlob(ctx, info, data, mime)
	case TypeWorkspace:
		if path == "" {
			return nsError(artifact.KindMalformedKey, nil, "workspace writes require a path")
		}
		vfs := r.vfs(info)
		return vfs.WriteBinary(ctx, path, data)
	default:
		return nsError(artifact.KindProviderError, nil, "corrupt namespace type %q", info.Type)
	}
}

func (r *Registry) writeBlob(ctx context.Context, info *Info, data []byte, mime string) error {
	if mime == "" {
		mime = "application/octet-stream"
	}
	if _, err := r.storage.Put(ctx, storage.PutInput{
		Bucket:      r.bucket,
		Key:         objectKey(info.GridPath, blobDataName),
		Body:        data,
		ContentType: mime,
	}); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to write blob payload")
	}

	meta := blobMeta{
		Mime:      mime,
		Bytes:     int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nsError(artifact.KindProviderError, err, "failed to encode blob sidecar")
	}
	if _, err := r.storage.Put(ctx, storage.PutInput{
		Bucket:      r.bucket,
		Key:         objectKey(info.GridPath, blobMetaName),
		Body:        raw,
		ContentType: "application/json",
	}); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to write blob sidecar")
	}
	return nil
}

// ReadNamespace reads payload bytes out of the namespace, symmetric with
// WriteNamespace.
func (r *Registry) ReadNamespace(ctx context.Context, nsID, path string) ([]byte, error) {
	info, err := r.Get(ctx, nsID)
	if err != nil {
		return nil, err
	}

	switch info.Type {
	case TypeBlob:
		if path != "" && path != "/"+blobDataName && path != blobDataName {
			return nil, nsError(artifact.KindMalformedKey, nil, "blob namespaces accept only the %s path", blobDataName)
		}
		obj, err := r.storage.Get(ctx, r.bucket, objectKey(info.GridPath, blobDataName))
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, nsError(artifact.KindNotFound, err, "namespace %s has no payload", nsID)
			}
			return nil, nsError(artifact.KindProviderError, err, "failed to read blob payload")
		}
		return obj.Body, nil
	case TypeWorkspace:
		if path == "" {
			return nil, nsError(artifact.KindMalformedKey, nil, "workspace reads require a path")
		}
		return r.vfs(info).ReadBinary(ctx, path)
	default:
		return nil, nsError(artifact.KindProviderError, nil, "corrupt namespace type %q", info.Type)
	}
}

// GetNamespaceVFS returns the file-system view of a namespace. BLOB
// namespaces get the same view; their two objects appear as files.
func (r *Registry) GetNamespaceVFS(ctx context.Context, nsID string) (*VFS, error) {
	info, err := r.Get(ctx, nsID)
	if err != nil {
		return nil, err
	}
	return r.vfs(info), nil
}

func (r *Registry) vfs(info *Info) *VFS {
	return &VFS{
		registry: r,
		info:     info,
		base:     "/",
	}
}

// ListFilter narrows ListNamespaces results. Zero values are wildcards.
type ListFilter struct {
	SessionID string
	UserID    string
	Type      Type
}

// ListNamespaces scans namespace records and returns those matching the
// filter, ordered by creation time.
func (r *Registry) ListNamespaces(ctx context.Context, filter ListFilter) ([]*Info, error) {
	keys, err := r.sessions.Keys(ctx, recordPrefix)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, nsError(artifact.KindProviderError, err, "failed to enumerate namespace records")
	}

	var out []*Info
	for _, k := range keys {
		info, gerr := r.Get(ctx, strings.TrimPrefix(k, recordPrefix))
		if gerr != nil {
			continue
		}
		if filter.SessionID != "" && info.SessionID != filter.SessionID {
			continue
		}
		if filter.UserID != "" && info.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && info.Type != filter.Type {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DestroyNamespace deletes every object under the namespace grid path,
// checkpoints included, then removes the record.
func (r *Registry) DestroyNamespace(ctx context.Context, nsID string) error {
	info, err := r.Get(ctx, nsID)
	if err != nil {
		return err
	}

	keys, err := r.listAllKeys(ctx, info.GridPath+"/")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if _, err := r.storage.DeleteBatch(ctx, r.bucket, keys); err != nil {
			return nsError(artifact.KindProviderError, err, "failed to delete namespace objects")
		}
	}
	if err := r.sessions.Delete(ctx, recordPrefix+nsID); err != nil && !session.IsNotFound(err) {
		return nsError(artifact.KindProviderError, err, "failed to delete namespace record")
	}

	// Stale checkpoint records are harmless but cheap to sweep.
	cpKeys, err := r.sessions.Keys(ctx, checkpointRecordPrefix(nsID))
	if err == nil {
		for _, k := range cpKeys {
			if derr := r.sessions.Delete(ctx, k); derr != nil && !session.IsNotFound(derr) {
				logger.Warn("checkpoint record sweep failed",
					logger.NamespaceID(nsID),
					logger.Err(derr))
			}
		}
	}

	logger.Debug("namespace destroyed",
		logger.NamespaceID(nsID),
		logger.Bytes(int64(len(keys))))
	return nil
}

// listAllKeys lists every key under prefix. The adapters have no
// continuation token, so the page size is doubled until the listing is
// complete.
func (r *Registry) listAllKeys(ctx context.Context, prefix string) ([]string, error) {
	for maxKeys := 1000; ; maxKeys *= 2 {
		res, err := r.storage.List(ctx, r.bucket, prefix, maxKeys)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, nil
			}
			return nil, nsError(artifact.KindProviderError, err, "failed to list %q", prefix)
		}
		if !res.IsTruncated {
			keys := make([]string, 0, len(res.Contents))
			for _, e := range res.Contents {
				keys = append(keys, e.Key)
			}
			return keys, nil
		}
	}
}
