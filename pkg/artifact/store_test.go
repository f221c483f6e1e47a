package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	sessmem "github.com/marmos91/artifactgrid/pkg/provider/session/memory"
	storemem "github.com/marmos91/artifactgrid/pkg/provider/storage/memory"
)

func newTestStore(t *testing.T, sandboxID string) *Store {
	t.Helper()
	sp := storemem.New()
	kp := sessmem.New()
	t.Cleanup(func() {
		sp.Close()
		kp.Close()
	})

	s, err := New(context.Background(), Config{
		SandboxID: sandboxID,
		Storage:   sp,
		Sessions:  kp,
		Bucket:    "artifacts",
	})
	require.NoError(t, err)
	return s
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{
		Data:    []byte("hello"),
		Mime:    "text/plain",
		Summary: "s",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.Bytes)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", md.SHA256)
	assert.Equal(t, "text/plain", md.Mime)
	assert.Equal(t, grid.ScopeSession, md.Scope)
	assert.True(t, strings.HasPrefix(md.Key, "grid/sb-a/sess-"))
}

func TestStoreRequiresMime(t *testing.T) {
	s := newTestStore(t, "sb-a")

	_, err := s.Store(context.Background(), StoreInput{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestUserScopeRequiresUserID(t *testing.T) {
	s := newTestStore(t, "sb-a")

	_, err := s.Store(context.Background(), StoreInput{
		Data:  []byte("x"),
		Mime:  "text/plain",
		Scope: grid.ScopeUser,
	})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestCrossSessionDeny(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	s1, err := s.Sessions().Allocate(ctx, "", time.Minute, nil)
	require.NoError(t, err)

	id, err := s.Store(ctx, StoreInput{
		Data:      []byte("x"),
		Mime:      "text/plain",
		SessionID: s1,
	})
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, id, "other-session", "")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// bytes unchanged after the denied read
	data, err := s.Retrieve(ctx, id, s1, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestUserScopeCheck(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{
		Data:   []byte("secret"),
		Mime:   "text/plain",
		Scope:  grid.ScopeUser,
		UserID: "alice",
	})
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, id, "", "bob")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = s.Retrieve(ctx, id, "", "")
	assert.ErrorIs(t, err, ErrAccessDenied)

	data, err := s.Retrieve(ctx, id, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), data)
}

func TestSandboxScopeAlwaysReadable(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{
		Data:  []byte("shared"),
		Mime:  "text/plain",
		Scope: grid.ScopeSandbox,
	})
	require.NoError(t, err)

	data, err := s.Retrieve(ctx, id, "any-session", "any-user")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), data)

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, md.Key, "/shared/")
}

func TestDeleteThenGone(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, id, "", "")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Retrieve(ctx, id, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// faultySessionStore fails reads under failPrefix once fail is set.
type faultySessionStore struct {
	session.Provider
	failPrefix string
	fail       bool
}

func (f *faultySessionStore) Get(ctx context.Context, key string) (string, error) {
	if f.fail && strings.HasPrefix(key, f.failPrefix) {
		return "", errors.New("backend unavailable")
	}
	return f.Provider.Get(ctx, key)
}

func TestDeleteUnindexFailureIsProviderError(t *testing.T) {
	kp := &faultySessionStore{Provider: sessmem.New(), failPrefix: sessionIndexPrefix}
	sp := storemem.New()
	t.Cleanup(func() {
		sp.Close()
		kp.Close()
	})
	s, err := New(context.Background(), Config{
		SandboxID: "sb-a",
		Storage:   sp,
		Sessions:  kp,
		Bucket:    "artifacts",
	})
	require.NoError(t, err)
	ctx := context.Background()

	sid, err := s.Sessions().Allocate(ctx, "", 0, nil)
	require.NoError(t, err)
	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", SessionID: sid})
	require.NoError(t, err)

	kp.fail = true
	ok, err := s.Delete(ctx, id, sid, "")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, KindProviderError, KindOf(err))
}

func TestDeleteRefusesSandboxScope(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", Scope: grid.ScopeSandbox})
	require.NoError(t, err)

	_, err = s.Delete(ctx, id, "", "")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// the admin path still works
	ok, err := s.AdminDeleteSandboxArtifact(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetrieveUnknownArtifact(t *testing.T) {
	s := newTestStore(t, "sb-a")

	_, err := s.Retrieve(context.Background(), "missing", "", "")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateMetadataAndExtendTTL(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", TTL: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, id, "new summary", "", "new.txt", map[string]string{"k": "v"}))

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new summary", md.Summary)
	assert.Equal(t, "new.txt", md.Filename)
	assert.Equal(t, "v", md.Meta["k"])

	before := md.TTLSeconds
	require.NoError(t, s.ExtendTTL(ctx, id, 10*time.Minute))
	md, err = s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before+600, md.TTLSeconds)
}

func TestUpdateFileRewritesInPlace(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("old"), Mime: "text/plain"})
	require.NoError(t, err)
	mdBefore, err := s.Metadata(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.UpdateFile(ctx, id, []byte("new content"), "", "", "", nil))

	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("new content"), data)

	mdAfter, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mdBefore.Key, mdAfter.Key) // same grid key
	assert.Equal(t, int64(11), mdAfter.Bytes)

	sum := sha256.Sum256([]byte("new content"))
	assert.Equal(t, hex.EncodeToString(sum[:]), mdAfter.SHA256)
}

func TestCopyFileSameSession(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	srcID, err := s.Store(ctx, StoreInput{Data: []byte("payload"), Mime: "text/plain", Filename: "a.txt"})
	require.NoError(t, err)
	srcMD, err := s.Metadata(ctx, srcID)
	require.NoError(t, err)

	newID, err := s.CopyFile(ctx, srcID, "b.txt", srcMD.SessionID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, srcID, newID)

	data, err := s.Retrieve(ctx, newID, srcMD.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	newMD, err := s.Metadata(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", newMD.Filename)
	assert.NotEqual(t, srcMD.Key, newMD.Key)
}

func TestCrossSessionCopyMoveOverwriteDenied(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", Filename: "a.txt"})
	require.NoError(t, err)

	_, err = s.CopyFile(ctx, id, "", "other-session", nil)
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = s.MoveFile(ctx, id, "b.txt", "other-session")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = s.WriteFile(ctx, []byte("y"), "a.txt", "text/plain", "", "other-session", id, nil)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// no side effects on the artifact
	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", md.Filename)
}

func TestMoveRenamesWithinSession(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", Filename: "old.txt"})
	require.NoError(t, err)
	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.MoveFile(ctx, id, "new.txt", md.SessionID))

	after, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new.txt", after.Filename)
	assert.Equal(t, md.Key, after.Key)
}

func TestWriteReadFile(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.WriteFile(ctx, []byte("text content"), "doc.txt", "text/plain", "a doc", "", "", nil)
	require.NoError(t, err)

	text, err := s.ReadText(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, "text content", text)

	// overwrite in the same session
	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	id2, err := s.WriteFile(ctx, []byte("v2"), "doc.txt", "text/plain", "", md.SessionID, id, nil)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	text, err = s.ReadText(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", text)
}

func TestListBySessionAndPrefix(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	sid, err := s.Sessions().Allocate(ctx, "", time.Minute, nil)
	require.NoError(t, err)

	for _, name := range []string{"docs/a.txt", "docs/b.txt", "img/c.png"} {
		_, err := s.Store(ctx, StoreInput{
			Data:      []byte("x"),
			Mime:      "text/plain",
			Filename:  name,
			SessionID: sid,
		})
		require.NoError(t, err)
	}

	all, err := s.ListBySession(ctx, sid, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	docs, err := s.ListByPrefix(ctx, sid, "docs/", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	dir, err := s.GetDirectoryContents(ctx, sid, "img")
	require.NoError(t, err)
	assert.Len(t, dir, 1)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	_, err := s.Store(ctx, StoreInput{
		Data: []byte("a"), Mime: "text/plain", Scope: grid.ScopeUser, UserID: "alice",
		Meta: map[string]string{"kind": "report"},
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{
		Data: []byte("b"), Mime: "image/png", Scope: grid.ScopeUser, UserID: "alice",
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreInput{
		Data: []byte("c"), Mime: "text/plain", Scope: grid.ScopeUser, UserID: "bob",
	})
	require.NoError(t, err)

	res, err := s.Search(ctx, SearchFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = s.Search(ctx, SearchFilter{UserID: "alice", MimePrefix: "text/"})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	res, err = s.Search(ctx, SearchFilter{MetaFilter: map[string]string{"kind": "report"}})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestSandboxWriteBoundary(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain"})
	require.NoError(t, err)

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	parsed, err := grid.Parse(md.Key)
	require.NoError(t, err)
	assert.Equal(t, "sb-a", parsed.SandboxID)
}

func TestStoreBatch(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	sid, err := s.Sessions().Allocate(ctx, "", time.Minute, nil)
	require.NoError(t, err)

	items := []StoreInput{
		{Data: []byte("one"), Mime: "text/plain"},
		{Data: []byte("two"), Mime: ""}, // fails: missing mime
		{Data: []byte("three"), Mime: "text/plain"},
	}

	var failures []int
	results := s.StoreBatch(ctx, items, sid, func(i int, err error) {
		failures = append(failures, i)
	})

	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0])
	assert.Empty(t, results[1])
	assert.NotEmpty(t, results[2])
	assert.Equal(t, []int{1}, failures)

	data, err := s.Retrieve(ctx, results[0], sid, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
}
