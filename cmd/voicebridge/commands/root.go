package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicebridge/pkg/cli"
	"github.com/haivivi/voicebridge/pkg/server"
)

var (
	// Global flags
	serverAddr   string
	formatOutput string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Bridge phone calls to a realtime reasoning engine",
	Long: `voicebridge - connects telephony media streams to a realtime
speech-to-speech engine and serves backend tools to it.

Run the server:
  voicebridge serve -c voicebridge.yaml

Talk to a running server:
  voicebridge status
  voicebridge sessions list
  voicebridge sessions terminate CA1234
  voicebridge tools call lookup_order '{"order_id":"A-7"}'

The server address defaults to $VOICEBRIDGE_ADDR or http://localhost:8080.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addr := os.Getenv("VOICEBRIDGE_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", addr, "voicebridge server address")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "output", "o", "", "output format (yaml, json, table)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// apiClient returns a client for the --addr server.
func apiClient() *server.Client {
	return server.NewClient(serverAddr, nil)
}

// requestContext bounds one admin request.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 15*time.Second)
}

// printResult writes v in the -o format, falling back to def when the flag
// is unset.
func printResult(cmd *cobra.Command, v any, def cli.OutputFormat) error {
	format := def
	if formatOutput != "" {
		f, err := cli.ParseOutputFormat(formatOutput)
		if err != nil {
			return err
		}
		format = f
	}
	return cli.Output(cmd.OutOrStdout(), v, format)
}
