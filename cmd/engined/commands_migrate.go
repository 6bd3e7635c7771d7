package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgecore/engined/internal/config"
	"github.com/edgecore/engined/internal/store"
)

// =============================================================================
// Migrate Command
// =============================================================================

// buildMigrateCmd creates the "migrate" command. store.Open applies any
// pending embedded migrations as part of opening the database, so this
// command's only job is to open (and cleanly close) the store and
// report the outcome.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./engine.yaml", "Path to YAML configuration file")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(store.Config{Path: cfg.Store.Path, BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied: %s\n", cfg.Store.Path)
	return nil
}
