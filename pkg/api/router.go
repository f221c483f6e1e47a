package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - liveness probe
//   - GET /health/ready - readiness probe (verifies the provider)
//   - GET /objects/{bucket}/* - redeem a presigned download
//   - HEAD /objects/{bucket}/* - redeem a presigned download, headers only
//   - PUT /objects/{bucket}/* - redeem a presigned upload or part upload
func NewRouter(provider storage.Provider, bucket string, signer *storage.PresignSigner) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	health := newHealthHandler(provider, bucket)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.liveness)
		r.Get("/ready", health.readiness)
	})

	objects := newObjectHandler(provider, signer)
	r.Get("/objects/{bucket}/*", objects.get)
	r.Head("/objects/{bucket}/*", objects.head)
	r.Put("/objects/{bucket}/*", objects.put)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
