package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "grid.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	etag, err := s.Put(ctx, storage.PutInput{
		Bucket:      "artifacts",
		Key:         "grid/sb/user-alice/doc",
		Body:        []byte("sqlite content"),
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "doc.txt"},
	})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "artifacts", "grid/sb/user-alice/doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("sqlite content"), obj.Body)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, "doc.txt", obj.Metadata["filename"])
	assert.Equal(t, etag, obj.ETag)
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("one")})
	require.NoError(t, err)
	_, err = s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("two")})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), obj.Body)
}

func TestMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "b", "nope")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)
}

func TestListPrefixEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"grid/sb/sess-s1/a", "grid/sb/sess-s1/b", "grid/sb/sess-s2/c", "grid/sb/sess_s1/x"} {
		_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: k, Body: []byte("x")})
		require.NoError(t, err)
	}

	res, err := s.List(ctx, "b", "grid/sb/sess-s1/", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.KeyCount)
	assert.Equal(t, "grid/sb/sess-s1/a", res.Contents[0].Key)

	// "_" in a prefix must match literally, not as a wildcard
	res, err = s.List(ctx, "b", "grid/sb/sess_", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.KeyCount)

	res, err = s.List(ctx, "b", "grid/", 2)
	require.NoError(t, err)
	assert.True(t, res.IsTruncated)
}

func TestListEntriesCarryETagAndModTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	etag, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("payload")})
	require.NoError(t, err)

	res, err := s.List(ctx, "b", "", 0)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	entry := res.Contents[0]
	assert.Equal(t, "k", entry.Key)
	assert.Equal(t, int64(len("payload")), entry.Size)
	assert.Equal(t, etag, entry.ETag)
	assert.True(t, entry.LastModified.After(before))
}

func TestDeleteIdempotentAndBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: k, Body: []byte("x")})
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "b", "a"))
	require.NoError(t, s.Delete(ctx, "b", "a"))

	deleted, err := s.DeleteBatch(ctx, "b", []string{"b", "c"})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	res, err := s.List(ctx, "b", "", 0)
	require.NoError(t, err)
	assert.Zero(t, res.KeyCount)
}

func TestPresign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PresignGet(ctx, "b", "missing", time.Minute)
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	_, err = s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	require.NoError(t, err)

	url, err := s.PresignGet(ctx, "b", "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "sqlite://b/k?token="))
}

func TestMultipart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uploadID, err := s.CreateMultipartUpload(ctx, "b", "big", "application/octet-stream")
	require.NoError(t, err)

	e1, err := s.UploadPart(ctx, "b", "big", uploadID, 1, []byte("hello "))
	require.NoError(t, err)
	e2, err := s.UploadPart(ctx, "b", "big", uploadID, 2, []byte("world"))
	require.NoError(t, err)

	_, err = s.CompleteMultipartUpload(ctx, "b", "big", uploadID, []storage.CompletedPart{
		{PartNumber: 1, ETag: e1},
		{PartNumber: 2, ETag: e2},
	})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "big")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), obj.Body)

	_, err = s.UploadPart(ctx, "b", "big", uploadID, 3, []byte("!"))
	assert.ErrorIs(t, err, storage.ErrNoSuchUpload)

	require.NoError(t, s.AbortMultipartUpload(ctx, "b", "big", uploadID))
}

func TestClosedStore(t *testing.T) {
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "grid.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "b", "k")
	assert.ErrorIs(t, err, storage.ErrProviderClosed)
}
