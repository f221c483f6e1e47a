package vfs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	etag, err := s.Put(ctx, storage.PutInput{
		Bucket:      "b",
		Key:         "grid/sb/shared/a1",
		Body:        []byte("vfs content"),
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "a.txt"},
	})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "grid/sb/shared/a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("vfs content"), obj.Body)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, "a.txt", obj.Metadata["filename"])
	assert.Equal(t, etag, obj.ETag)
}

func TestFilesystemRoundTrip(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("disk"), ContentType: "text/plain"})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("disk"), obj.Body)
	assert.Equal(t, FilesystemProviderName, s.Name())
}

func TestMissingKeyAndIdempotentDelete(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "b", "nope")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	require.NoError(t, s.Delete(ctx, "b", "nope"))
}

func TestListSkipsSidecars(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"grid/sb/sess-s1/a", "grid/sb/sess-s1/b", "grid/sb/user-u1/c"} {
		_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: k, Body: []byte("x")})
		require.NoError(t, err)
	}

	res, err := s.List(ctx, "b", "grid/sb/sess-s1/", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.KeyCount)
	assert.Equal(t, "grid/sb/sess-s1/a", res.Contents[0].Key)

	res, err = s.List(ctx, "b", "grid/", 2)
	require.NoError(t, err)
	assert.True(t, res.IsTruncated)
}

func TestPresignScheme(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	require.NoError(t, err)

	url, err := s.PresignGet(ctx, "b", "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory://b/k?token="))

	_, err = s.PresignGet(ctx, "b", "missing", time.Minute)
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)
}

func TestMultipart(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	uploadID, err := s.CreateMultipartUpload(ctx, "b", "big", "application/octet-stream")
	require.NoError(t, err)

	e1, err := s.UploadPart(ctx, "b", "big", uploadID, 1, []byte("hello "))
	require.NoError(t, err)
	e2, err := s.UploadPart(ctx, "b", "big", uploadID, 2, []byte("world"))
	require.NoError(t, err)

	res, err := s.List(ctx, "b", "", 0)
	require.NoError(t, err)
	assert.Zero(t, res.KeyCount)

	_, err = s.CompleteMultipartUpload(ctx, "b", "big", uploadID, []storage.CompletedPart{
		{PartNumber: 1, ETag: e1},
		{PartNumber: 2, ETag: e2},
	})
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "big")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), obj.Body)

	require.NoError(t, s.AbortMultipartUpload(ctx, "b", "big", uploadID)) // idempotent after complete
}

func TestClosedStore(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrProviderClosed)
}
