// replsh talks to an interactive program (an LLM runner, a language REPL)
// through a terminal, over SSH or a local PTY. It runs either as a terminal
// chat or as an MCP server.
package main

import (
	"fmt"
	"os"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
