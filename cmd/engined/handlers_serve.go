package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgecore/engined/internal/agent"
	"github.com/edgecore/engined/internal/audit"
	"github.com/edgecore/engined/internal/config"
	"github.com/edgecore/engined/internal/httpapi"
	"github.com/edgecore/engined/internal/intent"
	"github.com/edgecore/engined/internal/llm"
	"github.com/edgecore/engined/internal/llm/providers"
	"github.com/edgecore/engined/internal/memory"
	"github.com/edgecore/engined/internal/orchestrator"
	"github.com/edgecore/engined/internal/profile"
	"github.com/edgecore/engined/internal/scheduler"
	"github.com/edgecore/engined/internal/skills"
	"github.com/edgecore/engined/internal/store"
	"github.com/edgecore/engined/internal/tasks"
	"github.com/edgecore/engined/internal/tools"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, wires every subsystem, and blocks
// until a shutdown signal arrives or a background component fails.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting engined", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	caps, err := cfg.ResolveProfile()
	if err != nil {
		return fmt.Errorf("failed to resolve resource profile: %w", err)
	}
	slog.Info("resource profile resolved",
		"name", caps.Name,
		"worker_concurrency", caps.WorkerConcurrency,
		"llm_max_concurrency", caps.LLMMaxConcurrency,
	)

	st, err := store.Open(store.Config{Path: cfg.Store.Path, BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	auditLogger := audit.NewLogger(st, slog.Default(), 256)
	defer auditLogger.Close()

	gateway, err := buildGateway(cfg, caps, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to build LLM gateway: %w", err)
	}

	memEngine := memory.New(st, gateway, memory.DefaultConfig())
	router := intent.New(gateway, auditLogger, slog.Default())
	toolExecutor := tools.New(cfg.Tools, auditLogger)
	skillEntries := toSkillEntries(cfg.Skills.Entries)
	skillDispatcher := skills.New(skillEntries, cfg.Skills.MaxConcurrency, time.Duration(cfg.Skills.GraceSeconds)*time.Second, slog.Default())

	runtimeCfg := agent.DefaultConfig()
	runtimeCfg.StepLimit = caps.StepLimit
	runtimeCfg.DupLimit = caps.DupLimit
	runtimeCfg.ParseRetryLimit = caps.ParseRetryLimit
	toolSpecs := tools.Specs()
	skillSpecs := skills.Specs(skillEntries)

	askHandler := orchestrator.New(st, memEngine, router, gateway, toolExecutor, skillDispatcher, runtimeCfg, toolSpecs, skillSpecs, slog.Default())
	runSkillHandler := orchestrator.NewRunSkillHandler(skillDispatcher, auditLogger, slog.Default())
	adminHandler := orchestrator.NewAdminHandler(st, auditLogger, slog.Default())

	queue := tasks.NewQueue(st, auditLogger, tasks.Config{
		QueueLimit: caps.QueueLengthCap,
		PerUserRPM: cfg.RateLimit.PerUserRPM,
	})
	handlers := map[store.TaskKind]tasks.Handler{
		store.TaskKindAsk:      askHandler,
		store.TaskKindRunSkill: runSkillHandler,
		store.TaskKindAdmin:    adminHandler,
	}
	pool := tasks.NewPool(st, auditLogger, handlers, tasks.Config{
		WorkerConcurrency: caps.WorkerConcurrency,
		TaskTimeout:       caps.TaskTimeout,
	}, slog.Default())

	sched := scheduler.New(st, queue, auditLogger, scheduler.Config{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalMillis) * time.Millisecond,
	}, slog.Default())

	sweeper := audit.NewSweeper(st, cfg.Retention, slog.Default())

	server := httpapi.New(cfg, queue, st, slog.Default(), version)
	pool.SetObserver(server.Metrics())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go pool.Run(ctx)
	go sched.Run(ctx)
	go sweeper.Run(ctx)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP surface: %w", err)
	}

	slog.Info("engined started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("engined stopped gracefully")
	return nil
}

// buildGateway constructs one llm.Entry per configured provider,
// dispatching on its declared kind.
func buildGateway(cfg *config.Config, caps profile.Caps, auditLogger *audit.Logger) (*llm.Gateway, error) {
	entries := make([]llm.Entry, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		provider, err := buildProvider(p)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Name, err)
		}
		entries = append(entries, llm.Entry{
			Provider:       provider,
			Priority:       p.Priority,
			MaxConcurrency: caps.LLMMaxConcurrency,
			PerUserRPM:     cfg.RateLimit.PerUserRPM,
		})
	}
	return llm.NewGateway(entries, auditLogger, slog.Default()), nil
}

func buildProvider(p config.ProviderConfig) (llm.Provider, error) {
	switch p.Kind {
	case "anthropic":
		return providers.NewAnthropic(p.Name, providers.AnthropicConfig{
			APIKey:       p.APIKey,
			DefaultModel: p.Model,
			MaxRetries:   p.MaxRetries,
		})
	case "openai":
		return providers.NewOpenAI(p.Name, providers.OpenAIConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.Model,
			MaxRetries:   p.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// toSkillEntries adapts the config-file skill registrations into the
// dispatcher's Entry type.
func toSkillEntries(entries []config.SkillEntryConfig) []skills.Entry {
	out := make([]skills.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, skills.Entry{
			Name:          e.Name,
			Executable:    e.Executable,
			Args:          e.Args,
			TimeoutSecond: e.TimeoutSecond,
		})
	}
	return out
}
