// Command orchestrator runs the chat-command workflow orchestrator: it
// consumes inbound request queues, drives workflows through the engine, and
// publishes notifications and lifecycle events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/petrijr/chatflow/internal/collab"
	"github.com/petrijr/chatflow/internal/config"
	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/internal/engine"
	"github.com/petrijr/chatflow/internal/journal"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
	"github.com/petrijr/chatflow/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.Redis.MaxConnections
	client := redis.NewClient(opts)
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("connected to redis", slog.String("addr", opts.Addr))

	broker := queue.NewRedisBroker(client, logger)
	dispatcher := dispatch.New(broker, logger)

	for _, eventType := range []string{
		api.EventStepCompleted,
		api.EventStepFailed,
		api.EventWorkflowCompleted,
		api.EventWorkflowCancelled,
	} {
		dispatcher.RegisterHandler(eventType, dispatch.LoggingHandler(logger))
	}

	metrics := &dispatch.Metrics{}
	metrics.Register(dispatcher)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		j.Register(dispatcher)
		logger.Info("event journal enabled", slog.String("path", cfg.Journal.Path))
	}

	eng := engine.New(engine.Config{
		Queue:                broker,
		Bus:                  broker,
		Dispatcher:           dispatcher,
		Processor:            collab.NewRuleProcessor(),
		Actions:              collab.NewEchoRunner(logger),
		Logger:               logger,
		MaxRetries:           cfg.Workflow.MaxRetries,
		StepTimeout:          time.Duration(cfg.Workflow.StepTimeoutSeconds) * time.Second,
		BackoffCeiling:       time.Duration(cfg.Workflow.BackoffCeilingSeconds) * time.Second,
		UpdatesChannel:       cfg.Channels.Updates,
		NotificationsChannel: cfg.Channels.Notifications,
	})

	channels := map[string]string{
		cfg.Channels.Action:     engine.CategoryAction,
		cfg.Channels.Generation: engine.CategoryGeneration,
		cfg.Channels.Review:     engine.CategoryReview,
	}
	w := worker.New(eng, broker, channels, logger)

	logger.Info("orchestrator started")
	err = w.Run(ctx)

	snap := metrics.Snapshot()
	logger.Info("orchestrator stopped",
		slog.Int64("workflows_completed", snap.WorkflowsCompleted),
		slog.Int64("workflows_failed", snap.WorkflowsFailed),
	)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
