package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicebridge/pkg/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and uptime",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	c := apiClient()
	healthErr := c.Health(ctx)
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status from %s: %w", serverAddr, err)
	}
	if formatOutput != "" {
		return printResult(cmd, st, cli.FormatYAML)
	}

	card := cli.Card{
		Styles:  cli.DefaultStyles,
		Title:   "voicebridge",
		Healthy: healthErr == nil,
		Status:  "ok",
		Fields: []cli.Field{
			{Label: "Address", Value: serverAddr},
			{Label: "Version", Value: st.Version},
			{Label: "Uptime", Value: cli.FormatUptime(st.UptimeSeconds)},
			{Label: "Started", Value: st.StartedAt.Local().Format(time.DateTime)},
			{Label: "Active sessions", Value: strconv.Itoa(st.ActiveSessions)},
		},
	}
	if healthErr != nil {
		card.Status = "unhealthy"
	}
	fmt.Fprintln(cmd.OutOrStdout(), card.Render())
	return nil
}
