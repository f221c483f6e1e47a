package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// maxUploadBytes caps a single redeemed PUT body.
const maxUploadBytes = 5 * 1024 * 1024 * 1024

// objectHandler redeems presigned token URLs against a storage provider.
//
// Local adapters sign memory:// and file:// style URLs with the
// process-wide JWT signer; these handlers let HTTP clients redeem the
// same tokens. The token alone authorizes the request, there is no other
// authentication on these routes.
type objectHandler struct {
	provider storage.Provider
	signer   *storage.PresignSigner
}

func newObjectHandler(provider storage.Provider, signer *storage.PresignSigner) *objectHandler {
	if signer == nil {
		signer = storage.DefaultSigner()
	}
	return &objectHandler{provider: provider, signer: signer}
}

// authorize validates the token and checks its claims against the
// requested bucket, key and method.
func (h *objectHandler) authorize(r *http.Request, bucket, key, method string) (int, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return http.StatusUnauthorized, fmt.Errorf("missing token")
	}
	claims, err := h.signer.VerifyToken(token)
	if err != nil {
		return http.StatusUnauthorized, err
	}
	if claims.Method != method {
		return http.StatusForbidden, fmt.Errorf("token authorizes %s, not %s", claims.Method, method)
	}
	if claims.Bucket != bucket || claims.Key != key {
		return http.StatusForbidden, fmt.Errorf("token does not match the requested object")
	}
	return 0, nil
}

func (h *objectHandler) get(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	if status, err := h.authorize(r, bucket, key, storage.PresignMethodGet); err != nil {
		writeJSON(w, status, errorResponse(err.Error()))
		return
	}

	obj, err := h.provider.Get(r.Context(), bucket, key)
	if err != nil {
		if storage.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse("object not found"))
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse(err.Error()))
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}
	if _, err := w.Write(obj.Body); err != nil {
		logger.Warn("failed to write object body",
			logger.Bucket(bucket),
			logger.Key(key),
			logger.Err(err))
	}
}

func (h *objectHandler) head(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	// HEAD is redeemed with a GET token; it reveals no more than GET.
	if status, err := h.authorize(r, bucket, key, storage.PresignMethodGet); err != nil {
		w.WriteHeader(status)
		return
	}

	info, err := h.provider.Head(r.Context(), bucket, key)
	if err != nil {
		if storage.IsNotFound(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.ContentLength, 10))
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *objectHandler) put(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	q := r.URL.Query()
	uploadID := q.Get("uploadId")
	partNumber := q.Get("partNumber")

	// Part tokens sign the key with the upload coordinates appended, so a
	// part token cannot be replayed as a plain object write.
	claimKey := key
	if uploadID != "" {
		claimKey = fmt.Sprintf("%s?uploadId=%s&partNumber=%s", key, uploadID, partNumber)
	}
	if status, err := h.authorize(r, bucket, claimKey, storage.PresignMethodPut); err != nil {
		writeJSON(w, status, errorResponse(err.Error()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var etag string
	if uploadID != "" {
		pn, perr := strconv.ParseInt(partNumber, 10, 32)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(fmt.Sprintf("bad part number %q", partNumber)))
			return
		}
		etag, err = h.provider.UploadPart(r.Context(), bucket, key, uploadID, int32(pn), body)
	} else {
		etag, err = h.provider.Put(r.Context(), storage.PutInput{
			Bucket:      bucket,
			Key:         key,
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
		})
	}
	if err != nil {
		if storage.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse(err.Error()))
		return
	}

	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"etag": etag}))
}
