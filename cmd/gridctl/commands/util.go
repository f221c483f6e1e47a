package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/artifact"
	"github.com/marmos91/artifactgrid/pkg/config"
	"github.com/marmos91/artifactgrid/pkg/federation"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// env bundles everything a command needs to talk to the grid. Close
// releases both providers.
type env struct {
	cfg      *config.Config
	store    *artifact.Store
	index    *federation.Index
	storage  storage.Provider
	sessions session.Provider
}

func (e *env) Close() {
	if e.storage != nil {
		_ = e.storage.Close()
	}
	if e.sessions != nil {
		_ = e.sessions.Close()
	}
}

// buildEnv loads configuration and constructs the store the way the
// config names it. The federation index is wired only when enabled.
func buildEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}

	sp, err := config.BuildStorageProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	kp, err := config.BuildSessionProvider(ctx, cfg)
	if err != nil {
		_ = sp.Close()
		return nil, err
	}

	storeCfg := artifact.Config{
		SandboxID:  cfg.SandboxID,
		Storage:    sp,
		Sessions:   kp,
		Bucket:     cfg.Bucket,
		DefaultTTL: cfg.DefaultTTL(),
		MaxRetries: uint(cfg.MaxRetries),
	}

	var index *federation.Index
	if cfg.FederationEnabled {
		index = federation.New(kp, cfg.FederationTTL())
		storeCfg.Federation = federation.NewRegistrar(index)
	}

	store, err := artifact.New(ctx, storeCfg)
	if err != nil {
		_ = sp.Close()
		_ = kp.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, index: index, storage: sp, sessions: kp}, nil
}

// requireFederation returns the index or a usable error message.
func (e *env) requireFederation() (*federation.Index, error) {
	if e.index == nil {
		return nil, fmt.Errorf("federation is not enabled; set federation_enabled: true in the config")
	}
	return e.index, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
