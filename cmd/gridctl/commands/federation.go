package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/internal/cli/output"
)

var federationCmd = &cobra.Command{
	Use:   "federation",
	Short: "Inspect the cross-sandbox federation index",
}

var federationJSON bool

var federationStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show federation index statistics",
	RunE:  runFederationStats,
}

var federationLocateCmd = &cobra.Command{
	Use:   "locate <artifact-id>",
	Short: "Look up which sandbox holds an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFederationLocate,
}

func init() {
	federationStatsCmd.Flags().BoolVar(&federationJSON, "json", false, "emit JSON instead of a table")

	federationCmd.AddCommand(federationStatsCmd)
	federationCmd.AddCommand(federationLocateCmd)
}

func runFederationStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	index, err := e.requireFederation()
	if err != nil {
		return err
	}

	stats, err := index.Stats(ctx)
	if err != nil {
		return err
	}

	if federationJSON {
		return output.PrintJSON(os.Stdout, stats)
	}

	return output.SimpleTable(os.Stdout, [][2]string{
		{"Artifacts", strconv.Itoa(stats.TotalArtifacts)},
		{"Sessions", strconv.Itoa(stats.TotalSessions)},
		{"Sandboxes", strconv.Itoa(stats.TotalSandboxes)},
		{"Registered (lifetime)", strconv.FormatInt(stats.ArtifactsRegistered, 10)},
		{"Unregistered (lifetime)", strconv.FormatInt(stats.ArtifactsUnregistered, 10)},
	})
}

func runFederationLocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	index, err := e.requireFederation()
	if err != nil {
		return err
	}

	loc, err := index.Locate(ctx, args[0])
	if err != nil {
		return err
	}
	if loc == nil {
		return fmt.Errorf("artifact %s is not in the federation index", args[0])
	}
	return output.PrintJSON(os.Stdout, loc)
}
