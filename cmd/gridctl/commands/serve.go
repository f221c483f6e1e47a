package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the presign redemption HTTP server",
	Long: `Run the HTTP server that redeems presigned token URLs issued by the
local storage providers (memory://, file://, sqlite:// schemes).

The server stops gracefully on SIGINT or SIGTERM.

Examples:
  gridctl serve
  gridctl serve --port 9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: api.port from the config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	apiCfg := e.cfg.API
	if servePort > 0 {
		apiCfg.Port = servePort
	}
	if !apiCfg.IsEnabled() {
		return fmt.Errorf("the redemption server is disabled in the config (api.enabled: false)")
	}

	srv := api.NewServer(apiCfg, e.storage, e.cfg.Bucket, nil)
	logger.Info("serving presign redemption",
		logger.Bucket(e.cfg.Bucket),
		logger.SandboxID(e.cfg.SandboxID))
	return srv.Start(ctx)
}
