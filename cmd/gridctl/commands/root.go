// Package commands implements the gridctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gridctl",
	Short: "gridctl - artifact grid storage CLI",
	Long: `gridctl stores, retrieves and manages artifacts in a grid-keyed
object store. Artifacts live under session, user or sandbox scope with
TTL-managed metadata, presigned URLs and an optional cross-sandbox
federation index.

Use "gridctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/artifactgrid/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(presignCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(federationCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
