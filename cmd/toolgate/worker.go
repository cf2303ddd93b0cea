package main

import (
	"os"

	"github.com/spf13/cobra"

	"toolgate/internal/worker"
)

// workerCmd is the hidden child-process entry point. The executor
// re-execs this same binary with the worker argument, so evaluated code
// lives in a separate address space the parent can kill wholesale.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Internal: evaluate one request envelope from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(worker.Run(os.Stdin, os.Stdout, os.Stderr))
	},
}

// GetWorkerCommand returns the worker command for the root command.
func GetWorkerCommand() *cobra.Command { return workerCmd }
