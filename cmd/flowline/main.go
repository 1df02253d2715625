package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/flowline/internal/agent"
	"github.com/rendis/flowline/internal/connector"
	"github.com/rendis/flowline/internal/logging"
	"github.com/rendis/flowline/internal/metrics"
	"github.com/rendis/flowline/internal/pipeline"
	"github.com/rendis/flowline/internal/provider"
	"github.com/rendis/flowline/internal/queue"
	"github.com/rendis/flowline/internal/scheduler"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/internal/vector"
	"github.com/rendis/flowline/internal/webhook"
	"github.com/rendis/flowline/internal/workflow"
	"github.com/rendis/flowline/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowline:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// stdout carries the MCP stdio transport; everything else goes to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}),
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, dbHandle, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hub := streaming.NewMemoryHub()
	rec := metrics.NewSlogRecorder(logger)
	prov := provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderKey)
	index := vector.NewIndex(st, prov)

	registry := connector.NewDefaultRegistry()
	if dbHandle != nil {
		connector.RegisterDatabase(registry, dbHandle.DB())
	}

	runner := agent.NewRunner(st, prov, index, hub, rec, logger)
	jobQueue := queue.New(runner, hub, logger)
	defer jobQueue.Close()
	runner.SetQueue(jobQueue)

	pipelines, err := pipeline.NewExecutor(st, registry, runner, index, hub, rec, logger)
	if err != nil {
		return fmt.Errorf("create pipeline executor: %w", err)
	}
	pipelines.SetAgentWait(cfg.agentWait())

	workflows, err := workflow.NewExecutor(st, runner, hub, rec, logger)
	if err != nil {
		return fmt.Errorf("create workflow executor: %w", err)
	}
	workflows.SetAgentWait(cfg.agentWait())

	sched := scheduler.New(st, workflows, pipelines, hub, logger)
	sched.Start(ctx)
	defer sched.Stop()

	dispatcher := webhook.NewDispatcher(st, workflows, pipelines, hub, logger)

	srv := mcp.NewFlowlineServer(mcp.FlowlineServerDeps{
		Workflows: workflows,
		Pipelines: pipelines,
		Webhooks:  dispatcher,
		Scheduler: sched,
		Store:     st,
		Logger:    logger,
	})

	logger.Info("flowline started", slog.Bool("memory_store", cfg.MemoryStore))
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("flowline stopped")
	return nil
}

// openStore picks the configured store. The second return value is non-nil
// only for libsql and feeds the database connector.
func openStore(cfg Config) (store.Store, *store.LibSQLStore, error) {
	if cfg.MemoryStore {
		return store.NewMemoryStore(), nil, nil
	}
	if err := os.MkdirAll(flowlineDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	ls, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return ls, ls, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
