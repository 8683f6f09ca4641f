// Package config implements the orchestration core's single startup
// configuration object, grounded on the teacher repository's
// internal/config/config.go (a root Config struct composed of section
// structs, loaded from YAML with environment variable overrides) but
// scoped to spec.md §6's configuration surface: provider chain, worker
// pool sizing, retry parameters, lease duration, default timeouts, and
// the terminal-task retention window.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// Config is the orchestration core's root configuration object. It is
// loaded once at startup into an explicitly-initialized container — no
// package-level singletons, matching the teacher's dependency-injection
// discipline.
type Config struct {
	Providers    ProvidersConfig    `yaml:"providers"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Tasks        TasksConfig        `yaml:"tasks"`
	Conversation ConversationConfig `yaml:"conversation"`
	Agents       []AgentConfig      `yaml:"agents"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ProvidersConfig lists the LLM provider fallback chain in order.
type ProvidersConfig struct {
	Chain []ProviderConfig `yaml:"chain"`
}

// ProviderConfig configures one entry in the fallback chain, per
// spec.md §3's ProviderDescriptor.
type ProviderConfig struct {
	Kind              string        `yaml:"kind"`
	Model             string        `yaml:"model"`
	Endpoint          string        `yaml:"endpoint,omitempty"`
	CredentialsEnvVar string        `yaml:"credentials_env_var,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryBudget       int           `yaml:"retry_budget"`
}

// ToDescriptor resolves the credentials handle from the environment and
// converts to the provider package's wire type.
func (c ProviderConfig) ToDescriptor() models.ProviderDescriptor {
	handle := ""
	if c.CredentialsEnvVar != "" {
		handle = os.Getenv(c.CredentialsEnvVar)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return models.ProviderDescriptor{
		Kind:              models.ProviderKind(c.Kind),
		Model:             c.Model,
		Endpoint:          c.Endpoint,
		CredentialsHandle: handle,
		Timeout:           timeout,
		RetryBudget:       c.RetryBudget,
	}
}

// RetrievalConfig configures the RAG Retriever (C3).
type RetrievalConfig struct {
	DefaultK        int           `yaml:"default_k"`
	DefaultMinScore float64       `yaml:"default_min_score"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheSize       int           `yaml:"cache_size"`
}

// TasksConfig configures the Task Orchestrator (C7), per spec.md §6.
type TasksConfig struct {
	Workers            int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	DefaultMaxAttempts  int           `yaml:"default_max_attempts"`
	RetryBaseBackoff    time.Duration `yaml:"retry_base_backoff"`
	RetryCapBackoff     time.Duration `yaml:"retry_cap_backoff"`
	LeaseDuration       time.Duration `yaml:"lease_duration"`
	RetentionWindow     time.Duration `yaml:"retention_window"`
	CleanupCronSchedule string        `yaml:"cleanup_cron_schedule"`
}

// ConversationConfig selects and configures the Conversation Store (C6)
// backend: "memory", "postgres", or "sqlite".
type ConversationConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn,omitempty"`
}

// AgentConfig declares one Agent Definition in the startup configuration.
type AgentConfig struct {
	ID              string   `yaml:"id"`
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal,omitempty"`
	SystemPrompt    string   `yaml:"system_prompt"`
	PermittedTools  []string `yaml:"permitted_tools,omitempty"`
	Temperature     float64  `yaml:"temperature"`
	MaxTokens       int      `yaml:"max_tokens"`
	ProviderChainID string   `yaml:"provider_chain_id,omitempty"`
}

// ToDefinition converts a configured agent into the runtime model.
func (c AgentConfig) ToDefinition() *models.AgentDefinition {
	return &models.AgentDefinition{
		ID:              c.ID,
		Role:            c.Role,
		Goal:            c.Goal,
		SystemPrompt:    c.SystemPrompt,
		PermittedTools:  append([]string(nil), c.PermittedTools...),
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		ProviderChainID: c.ProviderChainID,
	}
}

// LoggingConfig configures internal/observability's Logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns a Config with the orchestrator's sane-default section
// values, mirroring the teacher's habit of a Default alongside every
// configurable struct.
func Default() Config {
	return Config{
		Retrieval: RetrievalConfig{
			DefaultK:        5,
			DefaultMinScore: 0.5,
			CacheTTL:        5 * time.Minute,
			CacheSize:       500,
		},
		Tasks: TasksConfig{
			Workers:             4,
			QueueSize:           256,
			DefaultMaxAttempts:  3,
			RetryBaseBackoff:    500 * time.Millisecond,
			RetryCapBackoff:     30 * time.Second,
			LeaseDuration:       60 * time.Second,
			RetentionWindow:     24 * time.Hour,
			CleanupCronSchedule: "0 * * * *",
		},
		Conversation: ConversationConfig{Backend: "memory"},
		Logging:      LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML configuration file at path, expanding ${VAR}
// environment references before parsing, and merges it over Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration's invariants once at startup.
func (c Config) Validate() error {
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be positive")
	}
	if c.Tasks.QueueSize <= 0 {
		return fmt.Errorf("tasks.queue_size must be positive")
	}
	for i, p := range c.Providers.Chain {
		if p.Kind == "" {
			return fmt.Errorf("providers.chain[%d]: kind is required", i)
		}
	}
	switch c.Conversation.Backend {
	case "", "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("conversation.backend %q is not one of memory|postgres|sqlite", c.Conversation.Backend)
	}
	return nil
}
