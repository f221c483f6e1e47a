package namespace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/artifact"
	"github.com/marmos91/artifactgrid/pkg/grid"
	sessmem "github.com/marmos91/artifactgrid/pkg/provider/session/memory"
	storemem "github.com/marmos91/artifactgrid/pkg/provider/storage/memory"
)

func newTestRegistry(t *testing.T) (*Registry, *storemem.Store) {
	t.Helper()
	sp := storemem.New()
	kp := sessmem.New()
	t.Cleanup(func() {
		sp.Close()
		kp.Close()
	})

	r, err := New(context.Background(), Config{
		SandboxID: "sb-ns",
		Storage:   sp,
		Sessions:  kp,
		Bucket:    "artifacts",
	})
	require.NoError(t, err)
	return r, sp
}

func TestCreateNamespaceBlob(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.CreateNamespace(ctx, CreateInput{Type: TypeBlob, Name: "report"})
	require.NoError(t, err)
	assert.NotEmpty(t, info.NamespaceID)
	assert.Equal(t, TypeBlob, info.Type)
	assert.Equal(t, grid.ScopeSession, info.Scope)
	assert.NotEmpty(t, info.SessionID)

	parsed, err := grid.Parse(info.GridPath)
	require.NoError(t, err)
	assert.Equal(t, "sb-ns", parsed.SandboxID)
	assert.Equal(t, info.NamespaceID, parsed.Leaf)

	got, err := r.Get(ctx, info.NamespaceID)
	require.NoError(t, err)
	assert.Equal(t, info.GridPath, got.GridPath)
}

func TestCreateNamespaceValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateNamespace(ctx, CreateInput{Type: "FOLDER"})
	assert.ErrorIs(t, err, artifact.ErrConfiguration)

	_, err = r.CreateNamespace(ctx, CreateInput{Type: TypeBlob, Scope: grid.ScopeUser})
	assert.ErrorIs(t, err, artifact.ErrAccessDenied)
}

func TestBlobWriteRead(t *testing.T) {
	r, sp := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.CreateNamespace(ctx, CreateInput{Type: TypeBlob})
	require.NoError(t, err)

	require.NoError(t, r.WriteNamespace(ctx, info.NamespaceID, []byte("payload"), "", "text/plain"))

	data, err := r.ReadNamespace(ctx, info.NamespaceID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// explicit _data path is the same object
	data, err = r.ReadNamespace(ctx, info.NamespaceID, "/_data")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// sidecar written alongside
	obj, err := sp.Get(ctx, "artifacts", info.GridPath+"/_meta.json")
	require.NoError(t, err)
	assert.Contains(t, string(obj.Body), `"bytes":7`)

	// any other path is rejected
	err = r.WriteNamespace(ctx, info.NamespaceID, []byte("x"), "/other", "")
	assert.ErrorIs(t, err, artifact.ErrMalformedKey)
	_, err = r.ReadNamespace(ctx, info.NamespaceID, "/other")
	assert.ErrorIs(t, err, artifact.ErrMalformedKey)
}

func TestBlobReadBeforeWrite(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.CreateNamespace(ctx, CreateInput{Type: TypeBlob})
	require.NoError(t, err)

	_, err = r.ReadNamespace(ctx, info.NamespaceID, "")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestWorkspaceWriteRead(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.CreateNamespace(ctx, CreateInput{Type: TypeWorkspace})
	require.NoError(t, err)

	require.NoError(t, r.WriteNamespace(ctx, info.NamespaceID, []byte("deep"), "/a/b/c.txt", ""))

	data, err := r.ReadNamespace(ctx, info.NamespaceID, "/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("deep"), data)

	// path is mandatory for workspaces
	err = r.WriteNamespace(ctx, info.NamespaceID, []byte("x"), "", "")
	assert.ErrorIs(t, err, artifact.ErrMalformedKey)
	_, err = r.ReadNamespace(ctx, info.NamespaceID, "")
	assert.ErrorIs(t, err, artifact.ErrMalformedKey)
}

func TestReadUnknownNamespace(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.ReadNamespace(context.Background(), "missing", "/x")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestListNamespaces(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateNamespace(ctx, CreateInput{Type: TypeBlob, SessionID: "s1"})
	require.NoError(t, err)
	_, err = r.CreateNamespace(ctx, CreateInput{Type: TypeWorkspace, SessionID: "s1"})
	require.NoError(t, err)
	_, err = r.CreateNamespace(ctx, CreateInput{
		Type: TypeWorkspace, Scope: grid.ScopeUser, UserID: "alice",
	})
	require.NoError(t, err)

	all, err := r.ListNamespaces(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySession, err := r.ListNamespaces(ctx, ListFilter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	workspaces, err := r.ListNamespaces(ctx, ListFilter{SessionID: "s1", Type: TypeWorkspace})
	require.NoError(t, err)
	assert.Len(t, workspaces, 1)

	byUser, err := r.ListNamespaces(ctx, ListFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestDestroyNamespace(t *testing.T) {
	r, sp := newTestRegistry(t)
	ctx := context.Background()

	info, err := r.CreateNamespace(ctx, CreateInput{Type: TypeWorkspace})
	require.NoError(t, err)
	require.NoError(t, r.WriteNamespace(ctx, info.NamespaceID, []byte("1"), "/a.txt", ""))
	require.NoError(t, r.WriteNamespace(ctx, info.NamespaceID, []byte("2"), "/b/c.txt", ""))

	require.NoError(t, r.DestroyNamespace(ctx, info.NamespaceID))

	_, err = r.Get(ctx, info.NamespaceID)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	res, err := sp.List(ctx, "artifacts", info.GridPath+"/", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Contents)

	// destroying twice fails on the missing record
	err = r.DestroyNamespace(ctx, info.NamespaceID)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}
