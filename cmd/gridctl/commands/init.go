package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a configuration file with defaults to the given path, or to
$XDG_CONFIG_HOME/artifactgrid/config.yaml when --config is not set.

Examples:
  # Write the default config
  gridctl init

  # Overwrite an existing config
  gridctl init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (sandbox id %s)\n", path, cfg.SandboxID)
	return nil
}
