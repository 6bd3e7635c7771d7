package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engined daemon",
		Long: `Start engined with the configured store, providers, and scheduler.

The daemon will:
1. Load configuration from the given file
2. Open (and migrate) the embedded store
3. Wire the LLM gateway, memory engine, intent router, and agent runtime
4. Start the task worker pool and scheduler
5. Start the local HTTP surface for task submission and health checks

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  engined serve

  # Start with a custom config
  engined serve --config /etc/engined/production.yaml

  # Start with debug logging
  engined serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./engine.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}
