package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
	storemem "github.com/marmos91/artifactgrid/pkg/provider/storage/memory"
)

func newTestAPI(t *testing.T) (*httptest.Server, *storemem.Store) {
	t.Helper()
	sp := storemem.New()
	t.Cleanup(func() { sp.Close() })

	srv := httptest.NewServer(NewRouter(sp, "artifacts", nil))
	t.Cleanup(srv.Close)
	return srv, sp
}

// redeemPath rewrites a memory://bucket/key?token= URL into the server's
// /objects path.
func redeemPath(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return "/objects/" + u.Host + u.Path + "?" + u.RawQuery
}

func TestRedeemDownload(t *testing.T) {
	srv, sp := newTestAPI(t)
	ctx := context.Background()

	_, err := sp.Put(ctx, storage.PutInput{
		Bucket:      "artifacts",
		Key:         "grid/sb/sess-s1/a1",
		Body:        []byte("payload"),
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	signed, err := sp.PresignGet(ctx, "artifacts", "grid/sb/sess-s1/a1", time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + redeemPath(t, signed))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)
}

func TestRedeemRejectsMissingToken(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/objects/artifacts/some/key")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRedeemRejectsWrongMethod(t *testing.T) {
	srv, sp := newTestAPI(t)
	ctx := context.Background()

	_, err := sp.Put(ctx, storage.PutInput{
		Bucket: "artifacts", Key: "k", Body: []byte("x"), ContentType: "text/plain",
	})
	require.NoError(t, err)
	signed, err := sp.PresignGet(ctx, "artifacts", "k", time.Minute)
	require.NoError(t, err)

	// a GET token cannot authorize a PUT
	req, err := http.NewRequest(http.MethodPut, srv.URL+redeemPath(t, signed), strings.NewReader("evil"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRedeemRejectsKeyMismatch(t *testing.T) {
	srv, sp := newTestAPI(t)
	ctx := context.Background()

	_, err := sp.Put(ctx, storage.PutInput{
		Bucket: "artifacts", Key: "a", Body: []byte("x"), ContentType: "text/plain",
	})
	require.NoError(t, err)
	signed, err := sp.PresignGet(ctx, "artifacts", "a", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	// token for "a", request for "b"
	resp, err := http.Get(srv.URL + "/objects/artifacts/b?" + u.RawQuery)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRedeemUpload(t *testing.T) {
	srv, sp := newTestAPI(t)
	ctx := context.Background()

	signed, err := sp.PresignPut(ctx, "artifacts", "uploads/new", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+redeemPath(t, signed), bytes.NewReader([]byte("uploaded")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	obj, err := sp.Get(ctx, "artifacts", "uploads/new")
	require.NoError(t, err)
	assert.Equal(t, []byte("uploaded"), obj.Body)
	assert.Equal(t, "application/pdf", obj.ContentType)
}

func TestRedeemPartUpload(t *testing.T) {
	srv, sp := newTestAPI(t)
	ctx := context.Background()

	uploadID, err := sp.CreateMultipartUpload(ctx, "artifacts", "big", "application/octet-stream")
	require.NoError(t, err)

	signed, err := sp.PresignUploadPart(ctx, "artifacts", "big", uploadID, 1, time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+redeemPath(t, signed), bytes.NewReader([]byte("part one")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	_, err = sp.CompleteMultipartUpload(ctx, "artifacts", "big", uploadID, []storage.CompletedPart{
		{PartNumber: 1, ETag: etag},
	})
	require.NoError(t, err)

	obj, err := sp.Get(ctx, "artifacts", "big")
	require.NoError(t, err)
	assert.Equal(t, []byte("part one"), obj.Body)
}

func TestRedeemDownloadMissingObject(t *testing.T) {
	srv, sp := newTestAPI(t)

	// sign directly; PresignGet refuses missing objects
	signed, err := storage.DefaultSigner().SignURL("memory", "artifacts", "ghost", storage.PresignMethodGet, time.Minute)
	require.NoError(t, err)
	_ = sp

	resp, err := http.Get(srv.URL + redeemPath(t, signed))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
