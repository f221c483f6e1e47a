package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

func TestPutGetHead(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	etag, err := s.Put(ctx, storage.PutInput{
		Bucket:      "b",
		Key:         "grid/sb/shared/a1",
		Body:        []byte("test content"),
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "test.txt"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	obj, err := s.Get(ctx, "b", "grid/sb/shared/a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("test content"), obj.Body)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(12), obj.ContentLength)
	assert.Equal(t, "test.txt", obj.Metadata["filename"])

	info, err := s.Head(ctx, "b", "grid/sb/shared/a1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), info.ContentLength)
	assert.Equal(t, etag, info.ETag)
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Get(context.Background(), "b", "nope")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	_, err = s.Head(context.Background(), "b", "nope")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "b", "k"))
	require.NoError(t, s.Delete(ctx, "b", "k")) // second delete succeeds

	_, err = s.Get(ctx, "b", "k")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)
}

func TestListByPrefix(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"grid/sb/sess-s1/a", "grid/sb/sess-s1/b", "grid/sb/sess-s2/c"} {
		_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: k, Body: []byte("x")})
		require.NoError(t, err)
	}

	res, err := s.List(ctx, "b", "grid/sb/sess-s1/", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.KeyCount)
	assert.False(t, res.IsTruncated)
	assert.Equal(t, "grid/sb/sess-s1/a", res.Contents[0].Key)

	res, err = s.List(ctx, "b", "grid/sb/", 2)
	require.NoError(t, err)
	assert.True(t, res.IsTruncated)
}

func TestCopy(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Put(ctx, storage.PutInput{Bucket: "b", Key: "src", Body: []byte("payload"), ContentType: "text/plain"})
	require.NoError(t, err)

	_, err = s.Copy(ctx, "b", "src", "dst")
	require.NoError(t, err)

	obj, err := s.Get(ctx, "b", "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), obj.Body)

	_, err = s.Copy(ctx, "b", "missing", "dst2")
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)
}

func TestPresignGetRequiresObject(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.PresignGet(ctx, "b", "missing", time.Minute)
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	_, err = s.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	require.NoError(t, err)

	url, err := s.PresignGet(ctx, "b", "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory://b/k?token="))

	claims, err := storage.DefaultSigner().VerifyURL(url, storage.PresignMethodGet)
	require.NoError(t, err)
	assert.Equal(t, "k", claims.Key)
}

func TestPresignPutAllowsFutureObject(t *testing.T) {
	s := New()
	defer s.Close()

	url, err := s.PresignPut(context.Background(), "b", "future", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "memory://b/future")
}

func TestMultipartAssembly(t *testing.T) {
	s := New()
	defer s.Close()
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

	// upload id is gone after complete
	_, err = s.UploadPart(ctx, "b", "big", uploadID, 3, []byte("!"))
	assert.ErrorIs(t, err, storage.ErrNoSuchUpload)
}

func TestMultipartAbort(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	uploadID, err := s.CreateMultipartUpload(ctx, "b", "k", "text/plain")
	require.NoError(t, err)

	require.NoError(t, s.AbortMultipartUpload(ctx, "b", "k", uploadID))
	require.NoError(t, s.AbortMultipartUpload(ctx, "b", "k", uploadID)) // idempotent

	_, err = s.UploadPart(ctx, "b", "k", uploadID, 1, []byte("x"))
	assert.ErrorIs(t, err, storage.ErrNoSuchUpload)
}

func TestSharedStores(t *testing.T) {
	defer ClearSharedStores()

	a := NewShared("demo")
	b := NewShared("demo")
	ctx := context.Background()

	_, err := a.Put(ctx, storage.PutInput{Bucket: "b", Key: "k", Body: []byte("shared")})
	require.NoError(t, err)

	obj, err := b.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), obj.Body)

	// first close keeps the shared map alive
	require.NoError(t, a.Close())
	c := NewShared("demo")
	obj, err = c.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), obj.Body)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), storage.PutInput{Bucket: "b", Key: "k", Body: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrProviderClosed)
	_, err = s.Get(context.Background(), "b", "k")
	assert.ErrorIs(t, err, storage.ErrProviderClosed)
}
