package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// Server is the presign redemption HTTP server.
//
// Endpoints:
//   - GET /health: liveness probe
//   - GET /health/ready: readiness probe
//   - GET/HEAD/PUT /objects/{bucket}/{key}: token redemption
//
// The server supports graceful shutdown with a bounded timeout.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates the redemption server in a stopped state. Call
// Start to begin serving. A nil signer selects the process-wide default,
// which matches the URLs the local adapters hand out.
func NewServer(config Config, provider storage.Provider, bucket string, signer *storage.PresignSigner) *Server {
	config.applyDefaults()

	router := NewRouter(provider, bucket, signer)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: server, config: config}
}

// Start serves requests until the context is cancelled or the listener
// fails. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("redemption server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("redemption server shutdown signal received")
		// A fresh context: the cancelled one would abort the drain.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("redemption server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("redemption server shutdown error: %w", err)
		} else {
			logger.Info("redemption server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
