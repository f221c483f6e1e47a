package api

import (
	"context"
	"net/http"
	"time"
)

// bucketChecker is the slice of the provider contract health checks use.
type bucketChecker interface {
	Name() string
	HeadBucket(ctx context.Context, bucket string) error
}

// healthHandler serves the liveness and readiness probes.
type healthHandler struct {
	provider bucketChecker
	bucket   string
}

func newHealthHandler(provider bucketChecker, bucket string) *healthHandler {
	return &healthHandler{provider: provider, bucket: bucket}
}

// liveness handles GET /health. It succeeds as long as the HTTP server
// is responsive.
func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "artifactgrid",
	}))
}

// readiness handles GET /health/ready. It verifies the storage provider
// can reach the configured bucket.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no storage provider configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.provider.HeadBucket(ctx, h.bucket); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"provider": h.provider.Name(),
		"bucket":   h.bucket,
		"latency":  time.Since(start).String(),
	}))
}
