package main

import (
	"fmt"
	"os"

	"github.com/cuemby/cascade/pkg/log"
	"github.com/spf13/cobra"
)

// Build metadata, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "cascade",
		Short: "Cascade - durable distributed workflow engine",
		Long: `Cascade composes long-running asynchronous computations out of small
reusable stages whose inputs, outputs, dependencies, retries and fan-out
are persisted and recovered across process restarts.

Workflows are driven by idempotent task handlers over an embedded,
strongly consistent record store.`,
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(log.Config{Level: logLevel, JSON: logJSON})
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON log lines instead of console output")

	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}
