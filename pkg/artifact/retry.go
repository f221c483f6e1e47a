package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// retryConfig holds backoff settings for transient provider errors.
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        2 * time.Second,
		backoffMultiplier: 2.0,
	}
}

// retryable reports whether err is worth retrying. Validation failures,
// not-found and access-denied are deterministic and never retried.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, storage.ErrNoSuchKey) ||
		errors.Is(err, storage.ErrNoSuchBucket) ||
		errors.Is(err, storage.ErrNoSuchUpload) ||
		errors.Is(err, storage.ErrAccessDenied) ||
		errors.Is(err, storage.ErrNotSupported) ||
		errors.Is(err, storage.ErrProviderClosed) {
		return false
	}
	switch KindOf(err) {
	case KindProviderError, "":
		return true
	}
	return false
}

// withRetry runs op, retrying transient errors with exponential backoff.
func withRetry(ctx context.Context, cfg retryConfig, opName string, op func() error) error {
	backoff := cfg.initialBackoff

	var err error
	for attempt := uint(0); ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt >= cfg.maxRetries || !retryable(err) {
			return err
		}

		logger.Warn("retrying after transient error",
			logger.Operation(opName),
			logger.Attempt(int(attempt+1)),
			logger.MaxRetries(int(cfg.maxRetries)),
			logger.Err(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.backoffMultiplier)
		if backoff > cfg.maxBackoff {
			backoff = cfg.maxBackoff
		}
	}
}
