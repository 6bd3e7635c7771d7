// Package config loads the engine's declarative YAML configuration file
// once at startup and merges it with the auto-detected resource profile.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgecore/engined/internal/profile"
)

// Config is the top-level configuration surface (§6: "Declarative file
// with sections for server bind, store path, worker caps, per-provider
// LLM settings, skills registry, scheduler defaults, logging, retention,
// and profile overrides").
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Profile    ProfileConfig    `yaml:"profile"`
	LLM        LLMConfig        `yaml:"llm"`
	Skills     SkillsConfig     `yaml:"skills"`
	Tools      ToolsConfig      `yaml:"tools"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Retention  RetentionConfig  `yaml:"retention"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP surface bind address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig configures the embedded relational store.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ProfileConfig allows an explicit profile override; empty means
// auto-detect from system memory.
type ProfileConfig struct {
	Override string `yaml:"override"`
}

// ProviderConfig configures one LLM provider entry in the priority chain.
type ProviderConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"` // "anthropic" | "openai"
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url,omitempty"`
	Model       string `yaml:"model"`
	Priority    int    `yaml:"priority"`
	MaxRetries  int    `yaml:"max_retries"`
}

// LLMConfig configures the provider gateway.
type LLMConfig struct {
	Providers         []ProviderConfig `yaml:"providers"`
	RequestTimeout    time.Duration    `yaml:"request_timeout"`
	TransportRetryCap int              `yaml:"transport_retry_cap"`
}

// SkillEntryConfig registers one subprocess skill.
type SkillEntryConfig struct {
	Name          string   `yaml:"name"`
	Executable    string   `yaml:"executable"`
	Args          []string `yaml:"args,omitempty"`
	TimeoutSecond int      `yaml:"timeout_seconds"`
}

// SkillsConfig configures the skill dispatcher's registry.
type SkillsConfig struct {
	Entries            []SkillEntryConfig `yaml:"entries"`
	MaxConcurrency     int                `yaml:"max_concurrency"`
	GraceSeconds       int                `yaml:"grace_seconds"`
}

// ToolsConfig configures the built-in tool sandbox.
type ToolsConfig struct {
	WorkRoot       string `yaml:"work_root"`
	MaxReadBytes   int64  `yaml:"max_read_bytes"`
	MaxWriteBytes  int64  `yaml:"max_write_bytes"`
	MaxListDepth   int    `yaml:"max_list_depth"`
	MaxCmdLength   int    `yaml:"max_cmd_length"`
	CmdTimeoutSecond int  `yaml:"cmd_timeout_seconds"`
	MaxOutputBytes int64  `yaml:"max_output_bytes"`
}

// SchedulerConfig configures the scheduler's tick cadence.
type SchedulerConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_ms"`
}

// LoggingConfig configures the base slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// RetentionConfig configures the periodic store sweep.
type RetentionConfig struct {
	TaskMaxAge   time.Duration `yaml:"task_max_age"`
	TaskMaxRows  int           `yaml:"task_max_rows"`
	AuditMaxAge  time.Duration `yaml:"audit_max_age"`
	AuditMaxRows int           `yaml:"audit_max_rows"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RateLimitConfig configures per-user request budgets.
type RateLimitConfig struct {
	PerUserRPM int `yaml:"per_user_rpm"`
}

// Load reads, env-expands, and parses the YAML config at path, then
// fills in defaults for anything left unset. Profile overrides (if any)
// are applied by the caller via config.Profile.Override.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config pre-filled with every default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./engine.db"
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 30 * time.Second
	}
	if cfg.LLM.TransportRetryCap == 0 {
		cfg.LLM.TransportRetryCap = 3
	}
	if cfg.Skills.MaxConcurrency == 0 {
		cfg.Skills.MaxConcurrency = 2
	}
	if cfg.Skills.GraceSeconds == 0 {
		cfg.Skills.GraceSeconds = 3
	}
	if cfg.Tools.WorkRoot == "" {
		cfg.Tools.WorkRoot = "./workspace"
	}
	if cfg.Tools.MaxReadBytes == 0 {
		cfg.Tools.MaxReadBytes = 1 << 20
	}
	if cfg.Tools.MaxWriteBytes == 0 {
		cfg.Tools.MaxWriteBytes = 1 << 20
	}
	if cfg.Tools.MaxListDepth == 0 {
		cfg.Tools.MaxListDepth = 6
	}
	if cfg.Tools.MaxCmdLength == 0 {
		cfg.Tools.MaxCmdLength = 4096
	}
	if cfg.Tools.CmdTimeoutSecond == 0 {
		cfg.Tools.CmdTimeoutSecond = 20
	}
	if cfg.Tools.MaxOutputBytes == 0 {
		cfg.Tools.MaxOutputBytes = 65536
	}
	if cfg.Scheduler.PollIntervalMillis == 0 {
		cfg.Scheduler.PollIntervalMillis = 5000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Retention.TaskMaxAge == 0 {
		cfg.Retention.TaskMaxAge = 30 * 24 * time.Hour
	}
	if cfg.Retention.TaskMaxRows == 0 {
		cfg.Retention.TaskMaxRows = 10000
	}
	if cfg.Retention.AuditMaxAge == 0 {
		cfg.Retention.AuditMaxAge = 90 * 24 * time.Hour
	}
	if cfg.Retention.AuditMaxRows == 0 {
		cfg.Retention.AuditMaxRows = 50000
	}
	if cfg.Retention.SweepInterval == 0 {
		cfg.Retention.SweepInterval = time.Hour
	}
	if cfg.RateLimit.PerUserRPM == 0 {
		cfg.RateLimit.PerUserRPM = 20
	}
}

// ResolveProfile returns the caps from the explicit override, or from
// RAM auto-detection if no override is configured.
func (c *Config) ResolveProfile() (profile.Caps, error) {
	if c.Profile.Override != "" {
		return profile.ForName(profile.Name(c.Profile.Override))
	}
	return profile.Detect(), nil
}

// Sanitized returns a copy of the config with provider API keys elided,
// for the /v1/config endpoint.
func (c *Config) Sanitized() *Config {
	clone := *c
	clone.LLM.Providers = make([]ProviderConfig, len(c.LLM.Providers))
	for i, p := range c.LLM.Providers {
		p.APIKey = ""
		clone.LLM.Providers[i] = p
	}
	return &clone
}
