package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is injected by -ldflags during build.
var version = "v0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "toolgate",
		Short: "Toolgate - secure tool execution server for the Model Context Protocol",
		Long: `Toolgate serves MCP tool calls over stdio, TCP, or WebSocket, with
per-client authentication, capability-based permissions, sandboxed file
access, and subprocess code execution under resource quotas.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		GetServeCommand(),
		GetWorkerCommand(),
		GetClientCommand(),
		GetTokenCommand(),
		GetActivityCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
