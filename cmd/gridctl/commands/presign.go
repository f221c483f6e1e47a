package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	presignExpires time.Duration
	presignUpload  bool
	presignSession string
	presignMime    string
)

var presignCmd = &cobra.Command{
	Use:   "presign <artifact-id | filename>",
	Short: "Generate a presigned URL",
	Long: `Generate a presigned download URL for an existing artifact, or
with --upload a presigned upload URL for a new one.

Examples:
  # Download URL valid for one hour
  gridctl presign 01HXAMPLE --expires 1h

  # Upload slot for a new file
  gridctl presign report.pdf --upload --session 01HSESSION --mime application/pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runPresign,
}

func init() {
	presignCmd.Flags().DurationVar(&presignExpires, "expires", 15*time.Minute, "URL validity window")
	presignCmd.Flags().BoolVar(&presignUpload, "upload", false, "generate an upload URL for a new artifact")
	presignCmd.Flags().StringVar(&presignSession, "session", "", "session id for upload URLs")
	presignCmd.Flags().StringVar(&presignMime, "mime", "application/octet-stream", "MIME type for upload URLs")
}

func runPresign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if presignUpload {
		id, url, err := e.store.PresignUpload(ctx, presignSession, args[0], presignMime, presignExpires)
		if err != nil {
			return err
		}
		fmt.Printf("artifact: %s\nurl: %s\n", id, url)
		return nil
	}

	url, err := e.store.Presign(ctx, args[0], presignExpires)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}
