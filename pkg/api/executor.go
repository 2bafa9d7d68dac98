package api

import "context"

// Executor performs the work of a single step type. It receives the owning
// execution (for access to earlier results and routing identifiers) and the
// step being run, and returns the step's result payload.
//
// Executors must treat the execution as read-only; the engine records the
// returned result itself.
type Executor interface {
	Execute(ctx context.Context, wf *WorkflowExecution, step *WorkflowStep) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, wf *WorkflowExecution, step *WorkflowStep) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, wf *WorkflowExecution, step *WorkflowStep) (map[string]any, error) {
	return f(ctx, wf, step)
}
