package federation

import (
	"context"

	"github.com/marmos91/artifactgrid/pkg/artifact"
)

// Registrar adapts an Index to the coordinator's registration hook.
type Registrar struct {
	index *Index
}

// NewRegistrar wraps the index for use as artifact.Config.Federation.
func NewRegistrar(index *Index) *Registrar {
	return &Registrar{index: index}
}

var _ artifact.FederationRegistrar = (*Registrar)(nil)

// RegisterArtifact implements artifact.FederationRegistrar.
func (r *Registrar) RegisterArtifact(ctx context.Context, md *artifact.Metadata) error {
	return r.index.Register(ctx, &Location{
		ArtifactID: md.ArtifactID,
		SandboxID:  md.SandboxID,
		SessionID:  md.SessionID,
		GridKey:    md.Key,
		Size:       md.Bytes,
		Mime:       md.Mime,
		StoredAt:   md.StoredAt,
		Checksum:   md.SHA256,
	})
}

// UnregisterArtifact implements artifact.FederationRegistrar.
func (r *Registrar) UnregisterArtifact(ctx context.Context, artifactID string) error {
	_, err := r.index.Unregister(ctx, artifactID)
	return err
}
