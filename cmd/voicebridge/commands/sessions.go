package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicebridge/pkg/bridge"
	"github.com/haivivi/voicebridge/pkg/cli"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "List, create and terminate call sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		list, err := apiClient().Sessions(ctx)
		if err != nil {
			return err
		}
		return printResult(cmd, sessionList(list), cli.FormatTable)
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create <call_id>",
	Short: "Create a session ahead of the call leg",
	Long: `Create a session for a provider call id. The engine connection is
opened immediately; the call leg attaches when its media stream starts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		snap, err := apiClient().CreateSession(ctx, args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, snap, cli.FormatYAML)
	},
}

var sessionsTerminateCmd = &cobra.Command{
	Use:     "terminate <id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Terminate a session by session id or call id",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := apiClient().TerminateSession(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Session %s terminated\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCreateCmd, sessionsTerminateCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionList prints as a table, and as the plain list otherwise.
type sessionList []bridge.Snapshot

func (l sessionList) Table() cli.Table {
	t := cli.Table{Headers: []string{"SESSION", "CALL", "STATUS", "ATTACHED", "AGE"}}
	now := time.Now()
	for _, s := range l {
		t.Rows = append(t.Rows, []string{
			s.ID, s.CallID, s.Status, strconv.FormatBool(s.Attached), cli.FormatAge(s.CreatedAt, now),
		})
	}
	return t
}
