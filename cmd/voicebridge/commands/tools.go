package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicebridge/pkg/cli"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and call backend tools over the tool protocol",
}

var toolsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered tools",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		c, err := toolrpc.Dial(ctx, apiClient().ToolsURL())
		if err != nil {
			return err
		}
		defer c.Close()
		tools, err := c.ListTools(ctx)
		if err != nil {
			return err
		}
		if formatOutput == "" || formatOutput == string(cli.FormatTable) {
			return cli.Output(cmd.OutOrStdout(), toolList(tools), cli.FormatTable)
		}
		// Schemas only know how to marshal themselves as JSON.
		raw, err := json.Marshal(tools)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		return printResult(cmd, generic, cli.FormatYAML)
	},
}

var toolArgsFile string

var toolsCallCmd = &cobra.Command{
	Use:   "call <name> [json-args]",
	Short: "Invoke a tool",
	Long: `Invoke a tool with a JSON argument object, given inline or with -f
as a YAML or JSON file ("-" reads stdin).

Examples:
  voicebridge tools call lookup_order '{"order_id":"A-7"}'
  voicebridge tools call lookup_order -f args.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runToolsCall,
}

func init() {
	toolsCallCmd.Flags().StringVarP(&toolArgsFile, "file", "f", "", "arguments file (YAML or JSON)")
	toolsCmd.AddCommand(toolsListCmd, toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	var (
		toolArgs map[string]any
		err      error
	)
	switch {
	case toolArgsFile != "" && len(args) == 2:
		return fmt.Errorf("give arguments inline or with -f, not both")
	case toolArgsFile != "":
		toolArgs, err = cli.LoadArgs(toolArgsFile)
	case len(args) == 2:
		toolArgs, err = cli.ParseArgs([]byte(args[1]), ".json")
	default:
		toolArgs = map[string]any{}
	}
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()
	c, err := toolrpc.Dial(ctx, apiClient().ToolsURL())
	if err != nil {
		return err
	}
	defer c.Close()

	raw, err := c.CallTool(ctx, args[0], toolArgs)
	if err != nil {
		return err
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return printResult(cmd, result, cli.FormatYAML)
}

type toolList []toolrpc.Descriptor

func (l toolList) Table() cli.Table {
	t := cli.Table{Headers: []string{"NAME", "DESCRIPTION"}}
	for _, d := range l {
		t.Rows = append(t.Rows, []string{d.Name, d.Description})
	}
	return t
}
