package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/artifactgrid/pkg/artifact"
)

// ErrRemoteArtifact reports that an artifact exists but lives in another
// sandbox. The index knows where; fetching across sandboxes is up to the
// caller's transport.
var ErrRemoteArtifact = errors.New("artifact is stored in a remote sandbox")

// RemoteArtifactError carries the remote location alongside
// ErrRemoteArtifact.
type RemoteArtifactError struct {
	Location *Location
}

func (e *RemoteArtifactError) Error() string {
	return fmt.Sprintf("artifact %s is stored in remote sandbox %s", e.Location.ArtifactID, e.Location.SandboxID)
}

func (e *RemoteArtifactError) Is(target error) bool { return target == ErrRemoteArtifact }

// FederatedStore decorates an ArtifactStore with federation-aware reads:
// a miss against the local store consults the index and distinguishes
// "gone" from "elsewhere".
type FederatedStore struct {
	*artifact.Store
	index *Index
}

// NewFederatedStore wraps store with index-backed lookups.
func NewFederatedStore(store *artifact.Store, index *Index) *FederatedStore {
	return &FederatedStore{Store: store, index: index}
}

// Index exposes the underlying federation index.
func (f *FederatedStore) Index() *Index { return f.index }

// Retrieve reads the artifact locally, falling back to the index on a
// local miss. A hit in another sandbox yields RemoteArtifactError.
func (f *FederatedStore) Retrieve(ctx context.Context, artifactID, sessionID, userID string) ([]byte, error) {
	data, err := f.Store.Retrieve(ctx, artifactID, sessionID, userID)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}

	loc, lerr := f.index.Locate(ctx, artifactID)
	if lerr != nil || loc == nil || loc.SandboxID == f.SandboxID() {
		return nil, err
	}
	return nil, &RemoteArtifactError{Location: loc}
}

// Locate returns the federation location of artifactID, local or remote.
func (f *FederatedStore) Locate(ctx context.Context, artifactID string) (*Location, error) {
	return f.index.Locate(ctx, artifactID)
}
