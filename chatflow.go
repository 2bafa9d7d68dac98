package chatflow

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/chatflow/internal/collab"
	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/internal/engine"
	"github.com/petrijr/chatflow/internal/journal"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
	"github.com/petrijr/chatflow/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Status            = api.Status
	WorkflowStep      = api.WorkflowStep
	WorkflowExecution = api.WorkflowExecution
	ChatRequest       = api.ChatRequest
	ProcessedRequest  = api.ProcessedRequest
	Operation         = api.Operation
	ActionResult      = api.ActionResult
	Event             = api.Event
	Executor          = api.Executor
	ExecutorFunc      = api.ExecutorFunc
	Processor         = api.Processor
	ProcessorFunc     = api.ProcessorFunc
	ActionRunner      = api.ActionRunner
	ActionFunc        = api.ActionFunc
)

// Re-export status values for convenience.

const (
	StatusPending    = api.StatusPending
	StatusProcessing = api.StatusProcessing
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
	StatusCancelled  = api.StatusCancelled
)

// Re-export the messaging, dispatch and engine building blocks.
// These wrap the internal packages so external callers never need to
// import internal paths.

type (
	Queue        = queue.Queue
	Bus          = queue.Bus
	Broker       = queue.Broker
	QueueMessage = queue.Message
	Notification = queue.Notification
	Health       = queue.Health
	Dispatcher   = dispatch.Dispatcher
	Handler      = dispatch.Handler
	Metrics      = dispatch.Metrics
	Engine       = engine.Engine
	EngineConfig = engine.Config
	Registry     = engine.Registry
	Worker       = worker.Worker
	Journal      = journal.Journal
)

// Request categories and built-in step types.

const (
	CategoryAction     = engine.CategoryAction
	CategoryGeneration = engine.CategoryGeneration
	CategoryReview     = engine.CategoryReview

	StepTypeNLP          = engine.StepTypeNLP
	StepTypeValidation   = engine.StepTypeValidation
	StepTypeAction       = engine.StepTypeAction
	StepTypeNotification = engine.StepTypeNotification
)

// NewRedisBroker returns a Broker (durable queue + notification bus) backed
// by the given Redis client. The caller owns the client's lifecycle.
func NewRedisBroker(client *redis.Client, logger *slog.Logger) Broker {
	return queue.NewRedisBroker(client, logger)
}

// NewInMemoryBroker returns a Broker backed by process memory. It keeps the
// transport semantics without durability; intended for tests and local runs.
func NewInMemoryBroker(logger *slog.Logger) Broker {
	return queue.NewInMemoryBroker(logger)
}

// NewDispatcher returns an event dispatcher that forwards every emitted
// event onto q under events:<type> and fans it out to local handlers.
func NewDispatcher(q Queue, logger *slog.Logger) *Dispatcher {
	return dispatch.New(q, logger)
}

// NewEngine constructs the workflow engine with its built-in step executors.
func NewEngine(cfg EngineConfig) *Engine {
	return engine.New(cfg)
}

// NewWorker returns the consumer loops bridging inbound request channels to
// the engine. A nil channels map selects the built-in category channels.
func NewWorker(eng worker.Engine, q Queue, channels map[string]string, logger *slog.Logger) *Worker {
	return worker.New(eng, q, channels, logger)
}

// NewRuleProcessor returns the bundled rule-based intent extractor.
func NewRuleProcessor() Processor {
	return collab.NewRuleProcessor()
}

// OpenJournal opens (or creates) a SQLite event journal at path.
func OpenJournal(path string) (*Journal, error) {
	return journal.Open(path)
}
