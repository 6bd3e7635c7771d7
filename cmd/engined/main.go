// Package main provides the CLI entry point for engined, a single-
// process task orchestration daemon: a local HTTP surface accepts ask,
// run_skill, and admin tasks, a worker pool dispatches them through
// the intent router, memory engine, and agent runtime, and a
// cooperative scheduler fires recurring jobs on top of the same queue.
//
// # Basic Usage
//
// Start the daemon:
//
//	engined serve --config engine.yaml
//
// Inspect the resource profile a config resolves to:
//
//	engined profile show --config engine.yaml
//
// Apply pending database migrations:
//
//	engined migrate
//
// # Environment Variables
//
// engine.yaml values may reference environment variables directly
// (e.g. "${ANTHROPIC_API_KEY}"); config.Load expands them before parsing.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "engined",
		Short: "engined - single-process task orchestration daemon",
		Long: `engined accepts tasks over a local HTTP surface and runs them through an
intent router, a three-layer memory engine, and a planner/tool/skill agent
runtime, with a cooperative scheduler for recurring jobs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildProfileCmd(),
	)

	return rootCmd
}
