package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	getSession string
	getUser    string
	getOutput  string
)

var getCmd = &cobra.Command{
	Use:   "get <artifact-id>",
	Short: "Retrieve an artifact's contents",
	Long: `Retrieve an artifact and write it to stdout or, with --output, to
a file.

Examples:
  gridctl get 01HXAMPLE --session 01HSESSION > out.bin
  gridctl get 01HXAMPLE --session 01HSESSION --output report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVar(&getSession, "session", "", "requesting session id")
	getCmd.Flags().StringVar(&getUser, "user", "", "requesting user id")
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write to this file instead of stdout")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	data, err := e.store.Retrieve(ctx, args[0], getSession, getUser)
	if err != nil {
		return err
	}

	if getOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(getOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", getOutput, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", getOutput, humanBytes(int64(len(data))))
	return nil
}
