package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	rmSession string
	rmUser    string
	rmAdmin   bool
)

var rmCmd = &cobra.Command{
	Use:   "rm <artifact-id>",
	Short: "Delete an artifact",
	Long: `Delete an artifact. Sandbox-scoped artifacts refuse ordinary
deletion; pass --admin to remove them.

Examples:
  gridctl rm 01HXAMPLE --session 01HSESSION
  gridctl rm 01HSHARED --admin`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().StringVar(&rmSession, "session", "", "requesting session id")
	rmCmd.Flags().StringVar(&rmUser, "user", "", "requesting user id")
	rmCmd.Flags().BoolVar(&rmAdmin, "admin", false, "delete sandbox-scoped artifacts")
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var ok bool
	if rmAdmin {
		ok, err = e.store.AdminDeleteSandboxArtifact(ctx, args[0])
	} else {
		ok, err = e.store.Delete(ctx, args[0], rmSession, rmUser)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("artifact %s not found", args[0])
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
