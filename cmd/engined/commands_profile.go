package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgecore/engined/internal/config"
)

// =============================================================================
// Profile Command
// =============================================================================

// buildProfileCmd creates the "profile" command group.
func buildProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect the resolved resource profile",
	}
	cmd.AddCommand(buildProfileShowCmd())
	return cmd
}

func buildProfileShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resource caps a config resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileShow(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./engine.yaml", "Path to YAML configuration file")
	return cmd
}

func runProfileShow(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	caps, err := cfg.ResolveProfile()
	if err != nil {
		return fmt.Errorf("failed to resolve profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "profile: %s\n", caps.Name)
	fmt.Fprintf(out, "  worker_concurrency:   %d\n", caps.WorkerConcurrency)
	fmt.Fprintf(out, "  llm_max_concurrency:  %d\n", caps.LLMMaxConcurrency)
	fmt.Fprintf(out, "  skill_max_concurrency: %d\n", caps.SkillMaxConcurrency)
	fmt.Fprintf(out, "  queue_length_cap:     %d\n", caps.QueueLengthCap)
	fmt.Fprintf(out, "  cache_budget_bytes:   %d\n", caps.CacheBudgetBytes)
	fmt.Fprintf(out, "  task_timeout:         %s\n", caps.TaskTimeout)
	fmt.Fprintf(out, "  skill_timeout:        %s\n", caps.SkillTimeout)
	fmt.Fprintf(out, "  tool_timeout:         %s\n", caps.ToolTimeout)
	fmt.Fprintf(out, "  step_limit:           %d\n", caps.StepLimit)
	return nil
}
