package artifact

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessmem "github.com/marmos91/artifactgrid/pkg/provider/session/memory"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
	storemem "github.com/marmos91/artifactgrid/pkg/provider/storage/memory"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestStreamUploadSmallPayload(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	payload := []byte("small streamed payload")
	id, err := s.StreamUpload(ctx, StreamUploadInput{
		Body:          bytes.NewReader(payload),
		Mime:          "text/plain",
		ContentLength: int64(len(payload)),
	})
	require.NoError(t, err)

	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), md.SHA256)
	assert.Equal(t, int64(len(payload)), md.Bytes)
}

func TestStreamUploadMultiPartPayload(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	// enough to force two flushed parts plus a remainder
	payload := randomBytes(t, 2*streamPartSize+4096)

	var lastTransferred int64
	id, err := s.StreamUpload(ctx, StreamUploadInput{
		Body:          bytes.NewReader(payload),
		Mime:          "application/octet-stream",
		ContentLength: int64(len(payload)),
		Progress: func(transferred, total int64) {
			assert.GreaterOrEqual(t, transferred, lastTransferred)
			assert.Equal(t, int64(len(payload)), total)
			lastTransferred = transferred
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), lastTransferred)

	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))

	md, err := s.Metadata(ctx, id)
	require.NoError(t, err)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), md.SHA256)
}

func TestStreamUploadUnknownLength(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	payload := []byte("length not declared up front")
	var sawTotal int64 = 0
	id, err := s.StreamUpload(ctx, StreamUploadInput{
		Body: bytes.NewReader(payload),
		Mime: "text/plain",
		Progress: func(transferred, total int64) {
			sawTotal = total
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), sawTotal)

	data, err := s.Retrieve(ctx, id, "", "")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestStreamUploadRequiresMime(t *testing.T) {
	s := newTestStore(t, "sb-a")

	_, err := s.StreamUpload(context.Background(), StreamUploadInput{
		Body: bytes.NewReader([]byte("x")),
	})
	assert.ErrorIs(t, err, ErrMalformedKey)
}

type failingReader struct {
	data []byte
	read int
}

func (f *failingReader) Read(buf []byte) (int, error) {
	if f.read >= len(f.data) {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(buf, f.data[f.read:])
	f.read += n
	return n, nil
}

func TestStreamUploadReaderFailure(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	_, err := s.StreamUpload(ctx, StreamUploadInput{
		Body: &failingReader{data: randomBytes(t, streamPartSize+100)},
		Mime: "application/octet-stream",
	})
	require.Error(t, err)
	assert.Equal(t, KindProviderError, KindOf(err))
}

func TestStreamDownloadChunked(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	payload := randomBytes(t, 200_000)
	id, err := s.Store(ctx, StoreInput{Data: payload, Mime: "application/octet-stream"})
	require.NoError(t, err)

	var chunks int
	var lastOffset int64
	rc, err := s.StreamDownload(ctx, id, 64*1024, func(transferred, total int64) {
		chunks++
		lastOffset = transferred
		assert.Equal(t, int64(len(payload)), total)
	}, "", "")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	assert.Equal(t, int64(len(payload)), lastOffset)
	assert.GreaterOrEqual(t, chunks, 4) // 200k over 64k chunks

	require.NoError(t, rc.Close())
	_, err = rc.Read(make([]byte, 1))
	assert.Error(t, err)
}

// streamingBackend adds a native streaming read to the memory provider and
// counts which read path a download takes.
type streamingBackend struct {
	storage.Provider
	streamOpens  int
	bufferedGets int
}

func (b *streamingBackend) GetStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := b.Provider.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	b.streamOpens++
	return io.NopCloser(bytes.NewReader(obj.Body)), nil
}

func (b *streamingBackend) Get(ctx context.Context, bucket, key string) (*storage.Object, error) {
	b.bufferedGets++
	return b.Provider.Get(ctx, bucket, key)
}

func TestStreamDownloadUsesProviderStream(t *testing.T) {
	sp := &streamingBackend{Provider: storemem.New()}
	kp := sessmem.New()
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

	payload := randomBytes(t, 150_000)
	id, err := s.Store(ctx, StoreInput{Data: payload, Mime: "application/octet-stream"})
	require.NoError(t, err)
	sp.bufferedGets = 0

	var lastOffset int64
	rc, err := s.StreamDownload(ctx, id, 32*1024, func(transferred, total int64) {
		lastOffset = transferred
		assert.Equal(t, int64(len(payload)), total)
	}, "", "")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	assert.Equal(t, int64(len(payload)), lastOffset)

	assert.Equal(t, 1, sp.streamOpens)
	assert.Zero(t, sp.bufferedGets)
}

func TestStreamDownloadScopeCheck(t *testing.T) {
	s := newTestStore(t, "sb-a")
	ctx := context.Background()

	sid, err := s.Sessions().Allocate(ctx, "", 0, nil)
	require.NoError(t, err)
	id, err := s.Store(ctx, StoreInput{Data: []byte("x"), Mime: "text/plain", SessionID: sid})
	require.NoError(t, err)

	_, err = s.StreamDownload(ctx, id, 0, nil, "other-session", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
}
