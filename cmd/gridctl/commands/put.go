package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/pkg/artifact"
	"github.com/marmos91/artifactgrid/pkg/grid"
)

var (
	putMime    string
	putSummary string
	putSession string
	putUser    string
	putScope   string
	putTTL     time.Duration
)

var putCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Store a file as an artifact",
	Long: `Store a file as an artifact and print its id.

The MIME type is derived from the file extension unless --mime is given.
When no session is passed, a fresh session-scoped artifact gets one
allocated automatically.

Examples:
  # Store into a fresh session
  gridctl put report.pdf

  # Store into an existing session with a custom TTL
  gridctl put report.pdf --session 01HXAMPLE --ttl 1h

  # Store under user scope
  gridctl put notes.txt --scope user --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

func init() {
	putCmd.Flags().StringVar(&putMime, "mime", "", "MIME type (default: derived from the file extension)")
	putCmd.Flags().StringVar(&putSummary, "summary", "", "human-readable artifact summary")
	putCmd.Flags().StringVar(&putSession, "session", "", "session id to store under")
	putCmd.Flags().StringVar(&putUser, "user", "", "owning user id (required for user scope)")
	putCmd.Flags().StringVar(&putScope, "scope", "session", "artifact scope: session, user or sandbox")
	putCmd.Flags().DurationVar(&putTTL, "ttl", 0, "artifact TTL (default: the configured default)")
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	scope, err := grid.ParseScope(putScope)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	mimeType := putMime
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := e.store.Store(ctx, artifact.StoreInput{
		Data:      data,
		Mime:      mimeType,
		Summary:   putSummary,
		Filename:  filepath.Base(args[0]),
		SessionID: putSession,
		UserID:    putUser,
		Scope:     scope,
		TTL:       putTTL,
	})
	if err != nil {
		return err
	}

	md, err := e.store.Metadata(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(id)
	if md.SessionID != "" && md.SessionID != putSession {
		fmt.Fprintf(os.Stderr, "session: %s\n", md.SessionID)
	}
	return nil
}
