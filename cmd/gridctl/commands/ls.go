package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/internal/cli/output"
	"github.com/marmos91/artifactgrid/pkg/artifact"
)

var (
	lsSession string
	lsPrefix  string
	lsLimit   int
	lsJSON    bool
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List artifacts in a session",
	Long: `List the artifacts stored under a session, newest first.

Examples:
  gridctl ls --session 01HSESSION
  gridctl ls --session 01HSESSION --prefix logs/ --limit 10
  gridctl ls --session 01HSESSION --json`,
	RunE: runLs,
}

// artifactList renders artifact metadata as a table.
type artifactList []*artifact.Metadata

// Headers implements output.TableRenderer.
func (al artifactList) Headers() []string {
	return []string{"ARTIFACT_ID", "FILENAME", "MIME", "SIZE", "SCOPE", "STORED_AT"}
}

// Rows implements output.TableRenderer.
func (al artifactList) Rows() [][]string {
	rows := make([][]string, 0, len(al))
	for _, md := range al {
		filename := md.Filename
		if filename == "" {
			filename = "-"
		}
		rows = append(rows, []string{
			md.ArtifactID,
			filename,
			md.Mime,
			humanBytes(md.Bytes),
			string(md.Scope),
			md.StoredAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func init() {
	lsCmd.Flags().StringVar(&lsSession, "session", "", "session id to list (required)")
	lsCmd.Flags().StringVar(&lsPrefix, "prefix", "", "only list artifacts whose filename starts with this prefix")
	lsCmd.Flags().IntVar(&lsLimit, "limit", 100, "maximum number of artifacts to list")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "emit JSON instead of a table")
	_ = lsCmd.MarkFlagRequired("session")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var items []*artifact.Metadata
	if lsPrefix != "" {
		items, err = e.store.ListByPrefix(ctx, lsSession, lsPrefix, lsLimit)
	} else {
		items, err = e.store.ListBySession(ctx, lsSession, lsLimit)
	}
	if err != nil {
		return err
	}

	if lsJSON {
		return output.PrintJSON(os.Stdout, items)
	}
	if len(items) == 0 {
		fmt.Println("No artifacts.")
		return nil
	}
	return output.PrintTable(os.Stdout, artifactList(items))
}
