package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/internal/cli/output"
)

var statJSON bool

var statCmd = &cobra.Command{
	Use:   "stat <artifact-id>",
	Short: "Show artifact metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	statCmd.Flags().BoolVar(&statJSON, "json", false, "emit JSON instead of a table")
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	md, err := e.store.Metadata(ctx, args[0])
	if err != nil {
		return err
	}

	if statJSON {
		return output.PrintJSON(os.Stdout, md)
	}

	pairs := [][2]string{
		{"Artifact", md.ArtifactID},
		{"Key", md.Key},
		{"Scope", string(md.Scope)},
		{"Sandbox", md.SandboxID},
		{"Mime", md.Mime},
		{"Size", fmt.Sprintf("%s (%d bytes)", humanBytes(md.Bytes), md.Bytes)},
		{"SHA256", md.SHA256},
		{"Stored", md.StoredAt.Format(time.RFC3339)},
	}
	if md.SessionID != "" {
		pairs = append(pairs, [2]string{"Session", md.SessionID})
	}
	if md.OwnerID != "" {
		pairs = append(pairs, [2]string{"Owner", md.OwnerID})
	}
	if md.Filename != "" {
		pairs = append(pairs, [2]string{"Filename", md.Filename})
	}
	if md.Summary != "" {
		pairs = append(pairs, [2]string{"Summary", md.Summary})
	}
	if md.TTLSeconds > 0 {
		pairs = append(pairs, [2]string{"TTL", (time.Duration(md.TTLSeconds) * time.Second).String()})
	}
	return output.SimpleTable(os.Stdout, pairs)
}
