package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// okProcessor is a Processor stub with a fixed, recognizable result.
var okProcessor = api.ProcessorFunc(func(ctx context.Context, text string) (api.ProcessedRequest, error) {
	return api.ProcessedRequest{
		OriginalText: text,
		Intent:       "create_branch",
		Confidence:   0.9,
		Entities:     map[string]string{"repository": "demo/repo", "branch": "auth-fix"},
	}, nil
})

var okRunner = api.ActionFunc(func(ctx context.Context, op api.Operation) (api.ActionResult, error) {
	return api.ActionResult{
		Success: true,
		Fields:  map[string]any{"branch_name": "auth-fix"},
	}, nil
})

// newTestEngine builds an engine on an in-memory broker with an instant
// retry sleep. Tests that need the real backoff values replace e.sleep.
func newTestEngine(t *testing.T, p api.Processor, a api.ActionRunner) (*Engine, *queue.InMemoryBroker, *dispatch.Dispatcher) {
	t.Helper()
	logger := discardLogger()
	broker := queue.NewInMemoryBroker(logger)
	d := dispatch.New(broker, logger)
	e := New(Config{
		Queue:      broker,
		Bus:        broker,
		Dispatcher: d,
		Processor:  p,
		Actions:    a,
		Logger:     logger,
	})
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e, broker, d
}

// newTestEngineWith is newTestEngine with caller-controlled engine settings.
// The broker, dispatcher and logger fields of cfg are filled in.
func newTestEngineWith(t *testing.T, logger *slog.Logger, cfg Config) (*Engine, *queue.InMemoryBroker, *dispatch.Dispatcher) {
	t.Helper()
	broker := queue.NewInMemoryBroker(logger)
	d := dispatch.New(broker, logger)
	cfg.Queue = broker
	cfg.Bus = broker
	cfg.Dispatcher = d
	cfg.Logger = logger
	e := New(cfg)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e, broker, d
}

// eventRecorder captures dispatched events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []api.Event
}

func (r *eventRecorder) record(eventType string) dispatch.Handler {
	return func(ctx context.Context, data map[string]any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, api.Event{Type: eventType, Data: data})
		return nil
	}
}

func (r *eventRecorder) watchAll(d *dispatch.Dispatcher) {
	for _, eventType := range []string{
		api.EventWorkflowStarted,
		api.EventStepCompleted,
		api.EventStepFailed,
		api.EventWorkflowCompleted,
		api.EventWorkflowCancelled,
	} {
		d.RegisterHandler(eventType, r.record(eventType))
	}
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func popPayload(t *testing.T, q queue.Queue, channel string) map[string]any {
	t.Helper()
	raw, err := q.Pop(context.Background(), channel, time.Second)
	if err != nil {
		t.Fatalf("Pop(%s) failed: %v", channel, err)
	}
	if raw == nil {
		t.Fatalf("Pop(%s) timed out", channel)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func TestRun_LinearStepsExecuteInListOrder(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)

	var order []string
	rec := api.ExecutorFunc(func(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
		order = append(order, step.StepID)
		return map[string]any{"ok": true}, nil
	})
	if err := e.Registry().Register("record", rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	wf := &api.WorkflowExecution{
		ExecutionID: "lin-1",
		Steps: []*api.WorkflowStep{
			e.newStep("a", "record", nil, nil),
			e.newStep("b", "record", nil, []string{"a"}),
			e.newStep("c", "record", nil, []string{"b"}),
			e.newStep("d", "record", nil, []string{"c"}),
		},
		Status:  api.StatusPending,
		Results: map[string]map[string]any{},
	}
	e.run(context.Background(), wf)

	if wf.Status != api.StatusCompleted {
		t.Fatalf("expected completed, got %q (errors: %v)", wf.Status, wf.Errors)
	}
	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("expected %d steps executed, got %v", len(want), order)
	}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if len(wf.Results) != len(want) {
		t.Fatalf("expected one result per step, got %d", len(wf.Results))
	}
	if wf.CurrentIndex != len(want) {
		t.Fatalf("expected CurrentIndex %d, got %d", len(want), wf.CurrentIndex)
	}
}

func TestRun_NonLinearDependenciesSchedule(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)

	var order []string
	rec := api.ExecutorFunc(func(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
		order = append(order, step.StepID)
		return map[string]any{"ok": true}, nil
	})
	if err := e.Registry().Register("record", rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// "join" is listed before one of its dependencies; the scheduler must
	// defer it until both results exist.
	wf := &api.WorkflowExecution{
		ExecutionID: "dag-1",
		Steps: []*api.WorkflowStep{
			e.newStep("root", "record", nil, nil),
			e.newStep("join", "record", nil, []string{"root", "side"}),
			e.newStep("side", "record", nil, []string{"root"}),
		},
		Status:  api.StatusPending,
		Results: map[string]map[string]any{},
	}
	e.run(context.Background(), wf)

	if wf.Status != api.StatusCompleted {
		t.Fatalf("expected completed, got %q (errors: %v)", wf.Status, wf.Errors)
	}
	want := []string{"root", "side", "join"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRun_MissingDependencyFailsWorkflow(t *testing.T) {
	e, broker, d := newTestEngine(t, okProcessor, okRunner)
	rec := &eventRecorder{}
	rec.watchAll(d)

	var executed []string
	recExec := api.ExecutorFunc(func(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
		executed = append(executed, step.StepID)
		return map[string]any{"ok": true}, nil
	})
	if err := e.Registry().Register("record", recExec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	wf := &api.WorkflowExecution{
		ExecutionID: "dep-1",
		Steps: []*api.WorkflowStep{
			e.newStep("a", "record", nil, nil),
			e.newStep("b", "record", nil, []string{"nonexistent"}),
			e.newStep("c", "record", nil, []string{"b"}),
		},
		Status:  api.StatusPending,
		Results: map[string]map[string]any{},
	}
	e.run(context.Background(), wf)

	if wf.Status != api.StatusFailed {
		t.Fatalf("expected failed, got %q", wf.Status)
	}
	if len(executed) != 1 || executed[0] != "a" {
		t.Fatalf("expected only step a to run, got %v", executed)
	}
	if len(wf.Errors) != 1 || !strings.Contains(wf.Errors[0], "nonexistent") {
		t.Fatalf("expected error naming the missing dependency, got %v", wf.Errors)
	}
	if got := rec.count(api.EventStepFailed); got != 1 {
		t.Fatalf("expected exactly one step-failed event, got %d", got)
	}
	if got := rec.count(api.EventWorkflowCompleted); got != 0 {
		t.Fatalf("expected no completed event for a failed workflow, got %d", got)
	}

	// Failed workflows still produce exactly one terminal notification.
	payload := popPayload(t, broker, DefaultNotificationsChannel)
	msg, _ := payload["message"].(string)
	if !strings.Contains(msg, "nonexistent") {
		t.Fatalf("expected failure notification naming the dependency, got %q", msg)
	}
	if n, _ := broker.Len(context.Background(), DefaultNotificationsChannel); n != 0 {
		t.Fatalf("expected a single notification, %d left on channel", n)
	}
}

func TestRun_UnknownStepTypeFailsWithoutRetry(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)

	wf := &api.WorkflowExecution{
		ExecutionID: "bogus-1",
		Steps: []*api.WorkflowStep{
			e.newStep("a", "bogus", nil, nil),
		},
		Status:  api.StatusPending,
		Results: map[string]map[string]any{},
	}
	e.run(context.Background(), wf)

	if wf.Status != api.StatusFailed {
		t.Fatalf("expected failed, got %q", wf.Status)
	}
	if wf.Steps[0].RetryCount != 0 {
		t.Fatalf("unknown step type must not be retried, RetryCount=%d", wf.Steps[0].RetryCount)
	}
	if len(wf.Errors) != 1 || !strings.Contains(wf.Errors[0], "unknown step type") {
		t.Fatalf("unexpected errors: %v", wf.Errors)
	}
}

func TestHandleRequest_EmitsLifecycleEventsExactlyOnce(t *testing.T) {
	e, broker, d := newTestEngine(t, okProcessor, okRunner)
	rec := &eventRecorder{}
	rec.watchAll(d)

	req := api.ChatRequest{
		RequesterID:   "u1",
		DestinationID: "c1",
		Command:       "create branch auth-fix in demo/repo",
		Category:      CategoryAction,
	}
	wf, err := e.HandleRequest(context.Background(), req, CategoryAction)
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}

	if wf.Status != api.StatusCompleted {
		t.Fatalf("expected completed, got %q (errors: %v)", wf.Status, wf.Errors)
	}
	if got := rec.count(api.EventWorkflowCompleted); got != 1 {
		t.Fatalf("expected exactly one workflow-completed event, got %d", got)
	}
	if got := rec.count(api.EventStepCompleted); got != len(wf.Steps) {
		t.Fatalf("expected %d step-completed events, got %d", len(wf.Steps), got)
	}
	if got := rec.count(api.EventStepFailed); got != 0 {
		t.Fatalf("expected no step-failed events, got %d", got)
	}
	if wf.EndTime.IsZero() {
		t.Fatal("expected EndTime to be stamped")
	}
	if len(e.Active()) != 0 {
		t.Fatalf("terminal execution still tracked: %v", e.Active())
	}

	// Exactly one terminal notification, from the notification step.
	if n, _ := broker.Len(context.Background(), DefaultNotificationsChannel); n != 1 {
		t.Fatalf("expected one final notification, got %d", n)
	}
}

func TestHandleRequest_UnknownCategoryFallsBackToActionChain(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)

	req := api.ChatRequest{RequesterID: "u1", DestinationID: "c1", Command: "do something"}
	wf, err := e.HandleRequest(context.Background(), req, "mystery")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}

	want := []string{"nlp_processing", "validate_permissions", "execute_action", "send_result_notification"}
	if len(wf.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(wf.Steps))
	}
	for i, id := range want {
		if wf.Steps[i].StepID != id {
			t.Fatalf("step %d: expected %s, got %s", i, id, wf.Steps[i].StepID)
		}
	}
}

func TestCancel_StopsDispatchAndPreservesResults(t *testing.T) {
	blocking := api.ActionFunc(func(ctx context.Context, op api.Operation) (api.ActionResult, error) {
		<-ctx.Done()
		return api.ActionResult{}, ctx.Err()
	})
	e, _, d := newTestEngine(t, okProcessor, blocking)
	rec := &eventRecorder{}
	rec.watchAll(d)

	req := api.ChatRequest{RequesterID: "u1", DestinationID: "c1", Command: "create branch x in a/b"}

	done := make(chan *api.WorkflowExecution, 1)
	go func() {
		wf, _ := e.HandleRequest(context.Background(), req, CategoryAction)
		done <- wf
	}()

	// Wait until the execution is in flight, then cancel it.
	var id string
	deadline := time.Now().Add(5 * time.Second)
	for {
		if active := e.Active(); len(active) == 1 {
			id = active[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("execution never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Give the blocked action step a moment to start.
	time.Sleep(20 * time.Millisecond)
	if !e.Cancel(id) {
		t.Fatal("Cancel returned false for an active execution")
	}

	var wf *api.WorkflowExecution
	select {
	case wf = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled workflow did not finish")
	}

	if wf.Status != api.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", wf.Status)
	}
	if _, ok := wf.Result("nlp_processing"); !ok {
		t.Fatal("results recorded before cancellation must be preserved")
	}
	if _, ok := wf.Result("execute_action"); ok {
		t.Fatal("in-flight step result must be discarded on cancellation")
	}
	if got := rec.count(api.EventWorkflowCompleted); got != 0 {
		t.Fatalf("cancelled workflow must not emit completed, got %d", got)
	}
	if got := rec.count(api.EventWorkflowCancelled); got != 1 {
		t.Fatalf("expected one cancelled event, got %d", got)
	}
}

func TestCancel_UnknownExecution(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)
	if e.Cancel("no-such-id") {
		t.Fatal("Cancel of unknown execution must return false")
	}
}

var errBoom = errors.New("boom")
