// Package main provides the CLI entry point for the orchestration core:
// a provider-fallback LLM dispatcher, a ReAct agent executor, a
// multi-agent workflow runner, a RAG retriever, and an async task
// orchestrator, wired together from a single YAML configuration file.
//
// Usage:
//
//	orchestrator serve --config orchestrator.yaml
//	orchestrator run --config orchestrator.yaml --workflow simple_research --input "..."
//	orchestrator status --config orchestrator.yaml --task-id <id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianhq/orchestrator/internal/agentcore"
	"github.com/meridianhq/orchestrator/internal/config"
	"github.com/meridianhq/orchestrator/internal/conversation"
	"github.com/meridianhq/orchestrator/internal/observability"
	"github.com/meridianhq/orchestrator/internal/providers"
	"github.com/meridianhq/orchestrator/internal/providers/anthropic"
	"github.com/meridianhq/orchestrator/internal/providers/bedrock"
	"github.com/meridianhq/orchestrator/internal/providers/openai"
	"github.com/meridianhq/orchestrator/internal/rag"
	"github.com/meridianhq/orchestrator/internal/tasks"
	"github.com/meridianhq/orchestrator/internal/tools"
	"github.com/meridianhq/orchestrator/internal/tools/calculator"
	"github.com/meridianhq/orchestrator/internal/tools/search"
	"github.com/meridianhq/orchestrator/internal/workflow"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "orchestrator",
		Short:   "Multi-agent AI orchestration core",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "orchestrator.yaml", "path to the YAML configuration file")

	root.AddCommand(serveCmd(&configPath), runCmd(&configPath), statusCmd(&configPath), cancelCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// core bundles every component the CLI subcommands need, built once from
// a loaded Config. It is assembled via constructor injection rather than
// package-level singletons.
type core struct {
	cfg          config.Config
	logger       *observability.Logger
	dispatcher   *providers.Dispatcher
	registry     *tools.Registry
	retriever    *rag.Retriever
	conversation conversation.Store
	executor     *agentcore.Executor
	runner       *workflow.Runner
	orchestrator *tasks.Orchestrator
	taskLog      tasks.Log
	cron         *tasks.CronScheduler
}

func build(configPath string) (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	providerList, descs, err := buildProviders(cfg.Providers.Chain)
	if err != nil {
		return nil, err
	}
	dispatcher := providers.NewDispatcher(providerList, descs)

	registry := tools.NewRegistry()
	if err := registry.Register(calculator.New()); err != nil {
		return nil, fmt.Errorf("registering calculator tool: %w", err)
	}
	if err := registry.Register(search.New(nil)); err != nil {
		return nil, fmt.Errorf("registering search tool: %w", err)
	}

	cache := rag.NewCache(cfg.Retrieval.CacheTTL, cfg.Retrieval.CacheSize)
	retriever := rag.NewRetriever(rag.NewMemoryBackend(), cache)

	convStore, err := buildConversationStore(cfg.Conversation)
	if err != nil {
		return nil, err
	}

	executor := agentcore.New(dispatcher, registry, 0)

	agents := make(map[string]*models.AgentDefinition, len(cfg.Agents)+1)
	for _, a := range cfg.Agents {
		agents[a.ID] = a.ToDefinition()
	}
	if _, ok := agents["fallback_agent"]; !ok {
		agents["fallback_agent"] = &models.AgentDefinition{
			ID:           "fallback_agent",
			Role:         "fallback",
			SystemPrompt: "Respond that no provider is currently configured.",
		}
	}

	runner := workflow.New(executor, agents, convStore)
	runner.UseRetriever(retriever)

	taskLog, err := buildTaskLog(cfg.Conversation)
	if err != nil {
		return nil, err
	}

	handlers := &tasks.StandardHandlers{
		Runner:          runner,
		Executor:        executor,
		Agents:          agents,
		Log:             taskLog,
		RetentionWindow: cfg.Tasks.RetentionWindow,
	}

	orchestrator := tasks.New(taskLog, handlers.Build(), tasks.Config{
		Workers:            cfg.Tasks.Workers,
		QueueSize:          cfg.Tasks.QueueSize,
		DefaultMaxAttempts: cfg.Tasks.DefaultMaxAttempts,
		RetryBase:          cfg.Tasks.RetryBaseBackoff,
		RetryCap:           cfg.Tasks.RetryCapBackoff,
		LeaseDuration:      cfg.Tasks.LeaseDuration,
	})

	cron := tasks.NewCronScheduler(orchestrator, nil)

	return &core{
		cfg:          cfg,
		logger:       logger,
		dispatcher:   dispatcher,
		registry:     registry,
		retriever:    retriever,
		conversation: convStore,
		executor:     executor,
		runner:       runner,
		orchestrator: orchestrator,
		taskLog:      taskLog,
		cron:         cron,
	}, nil
}

func buildProviders(chain []config.ProviderConfig) ([]providers.Provider, []models.ProviderDescriptor, error) {
	list := make([]providers.Provider, 0, len(chain))
	descs := make([]models.ProviderDescriptor, 0, len(chain))

	for _, pc := range chain {
		desc := pc.ToDescriptor()
		var p providers.Provider
		var err error

		switch models.ProviderKind(pc.Kind) {
		case models.ProviderAnthropic:
			p, err = anthropic.New(anthropic.Config{APIKey: desc.CredentialsHandle, BaseURL: desc.Endpoint, DefaultModel: desc.Model})
		case models.ProviderOpenAI:
			p, err = openai.New(openai.Config{APIKey: desc.CredentialsHandle, BaseURL: desc.Endpoint, DefaultModel: desc.Model})
		case models.ProviderBedrock:
			p, err = bedrock.New(context.Background(), bedrock.Config{DefaultModel: desc.Model})
		default:
			return nil, nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Kind, err)
		}

		list = append(list, p)
		descs = append(descs, desc)
	}

	return list, descs, nil
}

func buildConversationStore(cfg config.ConversationConfig) (conversation.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return conversation.NewMemoryStore(), nil
	case "postgres":
		return conversation.NewSQLStore(conversation.DialectPostgres, cfg.DSN, conversation.DefaultSQLConfig())
	case "sqlite":
		return conversation.NewSQLStore(conversation.DialectSQLite, cfg.DSN, conversation.DefaultSQLConfig())
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}

func buildTaskLog(cfg config.ConversationConfig) (tasks.Log, error) {
	switch cfg.Backend {
	case "", "memory":
		return tasks.NewMemoryLog(), nil
	case "postgres":
		return tasks.NewSQLLog(tasks.DialectPostgres, cfg.DSN)
	case "sqlite":
		return tasks.NewSQLLog(tasks.DialectSQLite, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the task orchestrator's worker pool and cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := c.orchestrator.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			if c.cfg.Tasks.CleanupCronSchedule != "" {
				if err := c.cron.ScheduleCleanup(ctx, c.cfg.Tasks.CleanupCronSchedule); err != nil {
					return fmt.Errorf("scheduling periodic cleanup: %w", err)
				}
				c.cron.Start()
			}

			c.logger.Info(ctx, "orchestrator started", "workers", c.cfg.Tasks.Workers, "queue_size", c.cfg.Tasks.QueueSize)
			<-ctx.Done()
			c.logger.Info(context.Background(), "shutting down")
			c.cron.Stop()
			c.orchestrator.Stop()
			return nil
		},
	}
}

func runCmd(configPath *string) *cobra.Command {
	var workflowName, input, conversationID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronously run a workflow and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			result, err := c.runner.Run(ctx, workflowName, input, workflow.Options{ConversationID: conversationID})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "simple_research", "registered workflow name")
	cmd.Flags().StringVar(&input, "input", "", "the user query text")
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "optional conversation id to persist the turn into")
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a task's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}
			task, err := c.orchestrator.Status(context.Background(), taskID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id to look up")
	return cmd
}

func cancelCmd(configPath *string) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Request cooperative cancellation of a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}
			ok, err := c.orchestrator.Cancel(context.Background(), taskID)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id to cancel")
	return cmd
}
