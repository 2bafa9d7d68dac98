// Package engine drives chat-command workflows: it builds a step list for
// each inbound request, executes the steps through registered executors with
// retry and backoff, records results, and emits lifecycle events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
)

// Request categories with built-in step lists. Unknown categories fall back
// to CategoryAction.
const (
	CategoryAction     = "action"
	CategoryGeneration = "generation"
	CategoryReview     = "review"
)

// Default outbound channels.
const (
	DefaultUpdatesChannel       = "operation_updates"
	DefaultNotificationsChannel = "final_notifications"
)

// Config describes how to construct an Engine. Queue, Bus, Dispatcher,
// Processor and Actions are required; the rest have defaults.
type Config struct {
	Queue      queue.Queue
	Bus        queue.Bus
	Dispatcher *dispatch.Dispatcher
	Processor  api.Processor
	Actions    api.ActionRunner
	Logger     *slog.Logger

	// MaxRetries is the per-step attempt budget for built steps.
	// Defaults to api.DefaultMaxRetries.
	MaxRetries int

	// StepTimeout bounds a single step attempt. Defaults to
	// api.DefaultStepTimeout.
	StepTimeout time.Duration

	// BackoffCeiling caps the exponential retry backoff. Zero means no cap,
	// matching the bounded default budget of three retries (max 8s). Size it
	// deliberately before raising MaxRetries.
	BackoffCeiling time.Duration

	UpdatesChannel       string
	NotificationsChannel string
}

type running struct {
	cancel context.CancelFunc
}

// Engine executes workflows. Many executions run concurrently; each is owned
// by exactly one call to HandleRequest and shares no mutable state with the
// others beyond the queue and dispatcher.
type Engine struct {
	queue      queue.Queue
	bus        queue.Bus
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	processor  api.Processor
	actions    api.ActionRunner
	logger     *slog.Logger

	maxRetries           int
	stepTimeout          time.Duration
	backoffCeiling       time.Duration
	updatesChannel       string
	notificationsChannel string

	// sleep is the retry backoff wait; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]*running
}

// New constructs an Engine and registers the built-in step executors.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		queue:                cfg.Queue,
		bus:                  cfg.Bus,
		dispatcher:           cfg.Dispatcher,
		registry:             NewRegistry(),
		processor:            cfg.Processor,
		actions:              cfg.Actions,
		logger:               logger,
		maxRetries:           cfg.MaxRetries,
		stepTimeout:          cfg.StepTimeout,
		backoffCeiling:       cfg.BackoffCeiling,
		updatesChannel:       cfg.UpdatesChannel,
		notificationsChannel: cfg.NotificationsChannel,
		sleep:                sleepContext,
		active:               make(map[string]*running),
	}
	if e.maxRetries <= 0 {
		e.maxRetries = api.DefaultMaxRetries
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = api.DefaultStepTimeout
	}
	if e.updatesChannel == "" {
		e.updatesChannel = DefaultUpdatesChannel
	}
	if e.notificationsChannel == "" {
		e.notificationsChannel = DefaultNotificationsChannel
	}
	e.registerBuiltins()
	return e
}

// Registry exposes the step registry so callers can add executor types
// without modifying the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// HandleRequest builds a workflow for the request and drives it to a
// terminal state. It blocks until the workflow finishes; callers wanting
// concurrency run it in its own goroutine. The returned execution is
// terminal and no longer tracked by the engine.
func (e *Engine) HandleRequest(ctx context.Context, req api.ChatRequest, category string) (*api.WorkflowExecution, error) {
	wf := &api.WorkflowExecution{
		ExecutionID: uuid.NewString(),
		Requester:   req.RequesterID,
		Destination: req.DestinationID,
		Steps:       e.buildSteps(req, category),
		Status:      api.StatusPending,
		Results:     make(map[string]map[string]any),
		StartTime:   time.Now(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.active[wf.ExecutionID] = &running{cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, wf.ExecutionID)
		e.mu.Unlock()
	}()

	e.logger.Info("handling request",
		slog.String("execution_id", wf.ExecutionID),
		slog.String("category", category),
		slog.String("requester", wf.Requester),
	)
	e.emit(runCtx, api.EventWorkflowStarted, map[string]any{
		"execution_id": wf.ExecutionID,
		"category":     category,
	})

	e.run(runCtx, wf)
	return wf, nil
}

// Cancel stops the named execution. Future step dispatch halts promptly;
// results already recorded are preserved and a step in flight is abandoned.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	r, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

// Active returns the ids of executions currently in flight.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.active))
	for id := range e.active {
		out = append(out, id)
	}
	return out
}

// run executes the workflow's steps until all have results or one fails.
//
// Scheduling is a ready queue over the declared dependencies: each round runs
// the first not-yet-run step (in list order) whose dependencies all have
// results. Linear chains therefore execute exactly in list order, and
// arbitrary dependency sets are supported without special cases. If no step
// is ready while steps remain, the workflow fails naming the missing
// dependency.
func (e *Engine) run(ctx context.Context, wf *api.WorkflowExecution) {
	wf.Status = api.StatusProcessing
	logger := e.logger.With(slog.String("execution_id", wf.ExecutionID))

	ran := make(map[string]bool, len(wf.Steps))
	for wf.CurrentIndex < len(wf.Steps) {
		if ctx.Err() != nil {
			e.markCancelled(ctx, wf, logger)
			return
		}

		step := nextReady(wf, ran)
		if step == nil {
			blocked, missing := firstBlocked(wf, ran)
			err := fmt.Errorf("dependencies not satisfied for step %s: missing result for %q", blocked.StepID, missing)
			logger.Error("workflow blocked", slog.Any("error", err))
			e.fail(ctx, wf, blocked, err, logger)
			return
		}

		if !e.runStep(ctx, wf, step, logger) {
			return
		}
		ran[step.StepID] = true
	}

	wf.Status = api.StatusCompleted
	wf.EndTime = time.Now()
	logger.Info("workflow completed", slog.Int("steps", len(wf.Steps)))
	e.emit(ctx, api.EventWorkflowCompleted, map[string]any{
		"execution_id": wf.ExecutionID,
		"results":      wf.Results,
	})
}

// runStep executes one step with retry and backoff. It returns true when the
// step succeeded and its result was recorded; false means the workflow
// reached a terminal state (failed or cancelled) and has been handled.
func (e *Engine) runStep(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep, logger *slog.Logger) bool {
	executor, err := e.registry.Get(step.StepType)
	if err != nil {
		// No executor will appear mid-flight; retrying is pointless.
		e.fail(ctx, wf, step, err, logger)
		return false
	}

	for {
		result, err := e.executeOnce(ctx, executor, wf, step)
		if ctx.Err() != nil {
			// The in-flight attempt was abandoned; discard its result.
			e.markCancelled(ctx, wf, logger)
			return false
		}
		if err == nil {
			wf.Results[step.StepID] = result
			wf.CurrentIndex++
			e.emit(ctx, api.EventStepCompleted, map[string]any{
				"execution_id": wf.ExecutionID,
				"step_id":      step.StepID,
				"result":       result,
			})
			return true
		}

		step.RetryCount++
		if step.RetryCount < step.MaxRetries {
			delay := e.backoff(step.RetryCount)
			logger.Warn("step failed, retrying",
				slog.String("step_id", step.StepID),
				slog.Int("attempt", step.RetryCount),
				slog.Duration("backoff", delay),
				slog.Any("error", err),
			)
			if serr := e.sleep(ctx, delay); serr != nil {
				e.markCancelled(ctx, wf, logger)
				return false
			}
			continue
		}

		e.fail(ctx, wf, step, err, logger)
		return false
	}
}

func (e *Engine) executeOnce(ctx context.Context, executor api.Executor, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return executor.Execute(stepCtx, wf, step)
}

// backoff returns 2^retryCount seconds, optionally capped.
func (e *Engine) backoff(retryCount int) time.Duration {
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if e.backoffCeiling > 0 && d > e.backoffCeiling {
		d = e.backoffCeiling
	}
	return d
}

func (e *Engine) fail(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep, err error, logger *slog.Logger) {
	wf.Errors = append(wf.Errors, fmt.Sprintf("step %s failed: %v", step.StepID, err))
	wf.Status = api.StatusFailed
	wf.EndTime = time.Now()

	logger.Error("workflow failed",
		slog.String("step_id", step.StepID),
		slog.Any("error", err),
	)
	e.emit(ctx, api.EventStepFailed, map[string]any{
		"execution_id": wf.ExecutionID,
		"step_id":      step.StepID,
		"error":        err.Error(),
	})
	e.notifyFailure(ctx, wf)
}

func (e *Engine) markCancelled(ctx context.Context, wf *api.WorkflowExecution, logger *slog.Logger) {
	wf.Status = api.StatusCancelled
	wf.EndTime = time.Now()
	logger.Info("workflow cancelled", slog.Int("completed_steps", wf.CurrentIndex))

	// The run context is gone; terminal reporting still has to go out.
	e.emit(context.WithoutCancel(ctx), api.EventWorkflowCancelled, map[string]any{
		"execution_id": wf.ExecutionID,
	})
}

// notifyFailure publishes the single terminal notification for a failed
// workflow. Completed workflows notify through their notification step.
func (e *Engine) notifyFailure(ctx context.Context, wf *api.WorkflowExecution) {
	payload := map[string]any{
		"destination_id": wf.Destination,
		"requester_id":   wf.Requester,
		"message":        "request failed: " + strings.Join(wf.Errors, "; "),
		"results":        wf.Results,
		"errors":         wf.Errors,
	}
	if err := e.queue.Push(ctx, e.notificationsChannel, payload, 0); err != nil {
		e.logger.Error("failure notification push failed",
			slog.String("execution_id", wf.ExecutionID),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) emit(ctx context.Context, eventType string, data map[string]any) {
	// Transport failures are logged by the dispatcher; lifecycle events are
	// best-effort and never fail the workflow.
	_ = e.dispatcher.Emit(ctx, eventType, data)
}

// nextReady returns the first step in list order that has not run and whose
// dependencies all have results, or nil if none is runnable.
func nextReady(wf *api.WorkflowExecution, ran map[string]bool) *api.WorkflowStep {
	for _, step := range wf.Steps {
		if ran[step.StepID] {
			continue
		}
		if depsSatisfied(wf, step) {
			return step
		}
	}
	return nil
}

// firstBlocked returns the first unrun step and the name of its first
// unsatisfied dependency.
func firstBlocked(wf *api.WorkflowExecution, ran map[string]bool) (*api.WorkflowStep, string) {
	for _, step := range wf.Steps {
		if ran[step.StepID] {
			continue
		}
		for _, dep := range step.Dependencies {
			if _, ok := wf.Results[dep]; !ok {
				return step, dep
			}
		}
	}
	// Unreachable while CurrentIndex < len(Steps), kept for safety.
	return wf.Steps[len(wf.Steps)-1], ""
}

func depsSatisfied(wf *api.WorkflowExecution, step *api.WorkflowStep) bool {
	for _, dep := range step.Dependencies {
		if _, ok := wf.Results[dep]; !ok {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
