package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/internal/telemetry"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// DefaultChunkSize is the download chunk size when none is given.
const DefaultChunkSize = 64 * 1024

// streamPartSize is the buffer threshold at which the multipart fallback
// flushes a part. Matches the provider part-size floor.
const streamPartSize = 5 * 1024 * 1024

// ProgressFunc reports transfer progress. total is negative when the
// overall size is unknown.
type ProgressFunc func(transferred, total int64)

// StreamUploadInput carries the parameters of a StreamUpload call.
type StreamUploadInput struct {
	Body          io.Reader
	Mime          string
	Summary       string
	Filename      string
	SessionID     string
	UserID        string
	Scope         grid.Scope
	ContentLength int64 // negative or zero when unknown
	Meta          map[string]string
	Progress      ProgressFunc
}

// StreamUpload stores a payload from a reader without buffering it whole.
// Providers with native streaming receive the reader directly; otherwise
// the payload is staged through a multipart upload in 5 MiB parts. The
// sha256 is computed incrementally and recorded in metadata. On failure or
// cancellation, partial provider state is cleaned up before the error is
// returned.
func (s *Store) StreamUpload(ctx context.Context, in StreamUploadInput) (id string, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "stream_upload")
	defer span.End()
	start := time.Now()
	defer func() { s.observe("stream_upload", start, err) }()

	if in.Mime == "" {
		return "", newError(KindMalformedKey, nil, "mime type is required")
	}
	storeIn := StoreInput{
		Mime:      in.Mime,
		Summary:   in.Summary,
		Filename:  in.Filename,
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Scope:     in.Scope,
		Meta:      in.Meta,
	}
	owner, err := s.normalize(ctx, &storeIn)
	if err != nil {
		return "", err
	}
	marker, err := storeIn.Scope.Marker(owner)
	if err != nil {
		return "", newError(KindMalformedKey, err, "invalid scope marker")
	}

	artifactID := grid.NewID()
	key, err := grid.Build(s.sandboxID, marker, artifactID)
	if err != nil {
		return "", newError(KindMalformedKey, err, "failed to build grid key")
	}

	total := in.ContentLength
	if total <= 0 {
		total = -1
	}
	hasher := sha256.New()

	var written int64
	if sp, ok := s.storage.(storage.StreamPutter); ok {
		written, err = s.streamNative(ctx, sp, key, hasher, in, total)
	} else {
		written, err = s.streamMultipart(ctx, key, hasher, in, total)
	}
	if err != nil {
		return "", err
	}

	md := &Metadata{
		ArtifactID:      artifactID,
		SessionID:       storeIn.SessionID,
		SandboxID:       s.sandboxID,
		Scope:           storeIn.Scope,
		OwnerID:         in.UserID,
		Key:             key,
		Mime:            in.Mime,
		Bytes:           written,
		SHA256:          hex.EncodeToString(hasher.Sum(nil)),
		Summary:         in.Summary,
		Filename:        in.Filename,
		Meta:            in.Meta,
		StoredAt:        time.Now().UTC(),
		TTLSeconds:      int64(storeIn.TTL.Seconds()),
		StorageProvider: s.storage.Name(),
	}
	if err := s.writeMetadata(ctx, md); err != nil {
		if derr := s.storage.Delete(ctx, s.bucket, key); derr != nil {
			logger.Error("rollback delete failed after metadata write failure",
				logger.ArtifactID(artifactID),
				logger.Err(derr))
		}
		return "", err
	}
	s.registerFederation(ctx, md)

	if s.metrics != nil {
		s.metrics.ObserveBytes("stream_upload", written)
	}
	return artifactID, nil
}

// progressReader counts bytes and reports progress as they pass through.
type progressReader struct {
	r        io.Reader
	hasher   hash.Hash
	total    int64
	written  int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.hasher.Write(buf[:n])
		p.written += int64(n)
		if p.progress != nil {
			p.progress(p.written, p.total)
		}
	}
	return n, err
}

func (s *Store) streamNative(ctx context.Context, sp storage.StreamPutter, key string, hasher hash.Hash, in StreamUploadInput, total int64) (int64, error) {
	pr := &progressReader{r: in.Body, hasher: hasher, total: total, progress: in.Progress}

	_, _, err := sp.PutStream(ctx, s.bucket, key, pr, in.Mime, nil)
	if err != nil {
		// A partially written single-shot object must not survive.
		if derr := s.storage.Delete(ctx, s.bucket, key); derr != nil {
			logger.Warn("cleanup delete failed after streaming error",
				logger.Key(key),
				logger.Err(derr))
		}
		return 0, newError(KindProviderError, err, "streaming put failed")
	}
	return pr.written, nil
}

// streamMultipart stages the reader through a provider multipart upload,
// flushing a part per 5 MiB of input. A payload smaller than one part
// becomes a plain Put.
func (s *Store) streamMultipart(ctx context.Context, key string, hasher hash.Hash, in StreamUploadInput, total int64) (int64, error) {
	var (
		uploadID string
		parts    []storage.CompletedPart
		partNum  int32
		written  int64
		buf      = make([]byte, 0, streamPartSize)
	)

	abort := func() {
		if uploadID == "" {
			return
		}
		if aerr := s.storage.AbortMultipartUpload(ctx, s.bucket, key, uploadID); aerr != nil {
			logger.Warn("multipart abort failed after streaming error",
				logger.Key(key),
				logger.UploadID(uploadID),
				logger.Err(aerr))
		}
	}

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if uploadID == "" {
			var cerr error
			uploadID, cerr = s.storage.CreateMultipartUpload(ctx, s.bucket, key, in.Mime)
			if cerr != nil {
				return newError(KindProviderError, cerr, "failed to open multipart upload")
			}
		}
		partNum++
		etag, perr := s.storage.UploadPart(ctx, s.bucket, key, uploadID, partNum, buf)
		if perr != nil {
			return newError(KindProviderError, perr, "failed to upload part %d", partNum)
		}
		parts = append(parts, storage.CompletedPart{PartNumber: partNum, ETag: etag})
		buf = buf[:0]
		return nil
	}

	chunk := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			abort()
			return 0, err
		}
		n, rerr := in.Body.Read(chunk)
		if n > 0 {
			hasher.Write(chunk[:n])
			buf = append(buf, chunk[:n]...)
			written += int64(n)
			if in.Progress != nil {
				in.Progress(written, total)
			}
			if len(buf) >= streamPartSize {
				if err := flush(); err != nil {
					abort()
					return 0, err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			abort()
			return 0, newError(KindProviderError, rerr, "stream read failed")
		}
	}

	if uploadID == "" {
		// Everything fit in one part; a plain put is cheaper.
		_, err := s.storage.Put(ctx, storage.PutInput{
			Bucket:      s.bucket,
			Key:         key,
			Body:        bytes.Clone(buf),
			ContentType: in.Mime,
		})
		if err != nil {
			return 0, newError(KindProviderError, err, "failed to store object")
		}
		return written, nil
	}

	if err := flush(); err != nil {
		abort()
		return 0, err
	}
	if _, err := s.storage.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, parts); err != nil {
		abort()
		return 0, newError(KindProviderError, err, "failed to complete multipart upload")
	}
	return written, nil
}

// StreamDownload returns a reader producing the artifact's bytes in chunks
// of at most chunkSize. The scope check runs before the first byte is
// produced; progress is reported per chunk with the total from metadata.
// Providers with a native streaming read hand the payload out
// incrementally; otherwise the object is fetched once and chunked from
// memory.
func (s *Store) StreamDownload(ctx context.Context, artifactID string, chunkSize int, progress ProgressFunc, sessionID, userID string) (io.ReadCloser, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	md, err := s.readMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if err := checkScope(md, sessionID, userID); err != nil {
		return nil, err
	}

	if sg, ok := s.storage.(storage.StreamGetter); ok {
		body, err := sg.GetStream(ctx, s.bucket, md.Key)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, newError(KindNotFound, err, "object for artifact %s is missing", artifactID)
			}
			return nil, newError(KindProviderError, err, "failed to open object stream for %s", artifactID)
		}
		return &chunkStream{
			body:      body,
			chunkSize: chunkSize,
			total:     md.Bytes,
			progress:  progress,
		}, nil
	}

	obj, err := s.storage.Get(ctx, s.bucket, md.Key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, newError(KindNotFound, err, "object for artifact %s is missing", artifactID)
		}
		return nil, newError(KindProviderError, err, "failed to read object for %s", artifactID)
	}

	return &chunkReader{
		data:      obj.Body,
		chunkSize: chunkSize,
		total:     md.Bytes,
		progress:  progress,
	}, nil
}

// chunkStream caps each Read at chunkSize over a provider stream and
// reports progress per chunk. Single consumer, not restartable.
type chunkStream struct {
	body      io.ReadCloser
	chunkSize int
	read      int64
	total     int64
	progress  ProgressFunc
}

func (c *chunkStream) Read(buf []byte) (int, error) {
	if len(buf) > c.chunkSize {
		buf = buf[:c.chunkSize]
	}
	n, err := c.body.Read(buf)
	if n > 0 {
		c.read += int64(n)
		if c.progress != nil {
			c.progress(c.read, c.total)
		}
	}
	return n, err
}

func (c *chunkStream) Close() error {
	return c.body.Close()
}

// chunkReader yields at most chunkSize bytes per Read and reports progress
// after each chunk. Single consumer, not restartable.
type chunkReader struct {
	data      []byte
	chunkSize int
	offset    int64
	total     int64
	progress  ProgressFunc
	closed    bool
}

func (c *chunkReader) Read(buf []byte) (int, error) {
	if c.closed {
		return 0, errors.New("stream closed")
	}
	if c.offset >= int64(len(c.data)) {
		return 0, io.EOF
	}

	n := len(buf)
	if n > c.chunkSize {
		n = c.chunkSize
	}
	remaining := int64(len(c.data)) - c.offset
	if int64(n) > remaining {
		n = int(remaining)
	}

	copy(buf, c.data[c.offset:c.offset+int64(n)])
	c.offset += int64(n)
	if c.progress != nil {
		c.progress(c.offset, c.total)
	}
	return n, nil
}

func (c *chunkReader) Close() error {
	c.closed = true
	return nil
}
