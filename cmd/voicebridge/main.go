// Command voicebridge bridges telephony call legs to a realtime reasoning
// engine and serves backend tools to it.
//
// Usage:
//
//	voicebridge [flags] <command> [subcommand] [args]
//
// Commands:
//
//	serve     - Run the bridge server
//	status    - Show server health and uptime
//	sessions  - List, create and terminate call sessions
//	tools     - List and call backend tools
//	version   - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/voicebridge/cmd/voicebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
