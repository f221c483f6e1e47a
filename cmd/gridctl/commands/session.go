package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/artifactgrid/internal/cli/output"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions (create, extend, show)",
}

var (
	sessionCreateUser string
	sessionCreateTTL  time.Duration
	sessionExtendTTL  time.Duration
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Allocate a new session",
	Long: `Allocate a new session and print its id.

Examples:
  gridctl session create
  gridctl session create --user alice --ttl 1h`,
	RunE: runSessionCreate,
}

var sessionExtendCmd = &cobra.Command{
	Use:   "extend <session-id>",
	Short: "Extend a session's TTL",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionExtend,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionCreateUser, "user", "", "user id to bind the session to")
	sessionCreateCmd.Flags().DurationVar(&sessionCreateTTL, "ttl", 0, "session TTL (default: the configured default)")
	sessionExtendCmd.Flags().DurationVar(&sessionExtendTTL, "ttl", 15*time.Minute, "additional lifetime")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionExtendCmd)
	sessionCmd.AddCommand(sessionShowCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := e.store.Sessions().Allocate(ctx, sessionCreateUser, sessionCreateTTL, nil)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runSessionExtend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.Sessions().Extend(ctx, args[0], sessionExtendTTL); err != nil {
		return err
	}
	fmt.Printf("Extended %s by %s\n", args[0], sessionExtendTTL)
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := e.store.Sessions().Get(ctx, args[0])
	if err != nil {
		return err
	}
	return output.PrintJSON(os.Stdout, info)
}
