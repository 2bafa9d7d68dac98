package api

import "time"

// Status represents the lifecycle state of a workflow execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Defaults applied when a step is built without explicit values.
const (
	DefaultMaxRetries  = 3
	DefaultStepTimeout = 5 * time.Minute
)

// WorkflowStep is one unit of work within a workflow.
//
// StepID is unique within its owning workflow (not globally). StepType selects
// the executor that performs the work; Parameters are interpreted by that
// executor only. Dependencies name earlier StepIDs whose results must exist
// before this step may run.
type WorkflowStep struct {
	StepID       string
	StepType     string
	Parameters   map[string]any
	Dependencies []string

	// RetryCount counts failed attempts of this step. It starts at 0 and is
	// mutated only by the engine during execution.
	RetryCount int

	// MaxRetries is the total attempt budget for this step.
	MaxRetries int

	// Timeout bounds a single attempt of this step.
	Timeout time.Duration
}

// WorkflowExecution tracks one in-flight request through its ordered steps.
//
// It is owned exclusively by the engine for its lifetime; Results and Errors
// are append-only, CurrentIndex only increases, and Status transitions
// pending -> processing -> {completed|failed|cancelled}.
type WorkflowExecution struct {
	ExecutionID string

	// Requester and Destination are opaque routing identifiers
	// (e.g. a user id and a channel id).
	Requester   string
	Destination string

	// Steps is the engine's evaluation order. For linear dependency chains
	// this is also the execution order; for general dependency sets the
	// engine runs whichever step becomes ready first, in list order.
	Steps []*WorkflowStep

	// CurrentIndex counts completed steps. It never decreases.
	CurrentIndex int

	Status Status

	// Results maps StepID to the result payload produced by that step.
	Results map[string]map[string]any

	Errors []string

	StartTime time.Time
	EndTime   time.Time
}

// Result returns the recorded result for the given step, if any.
func (w *WorkflowExecution) Result(stepID string) (map[string]any, bool) {
	r, ok := w.Results[stepID]
	return r, ok
}

// Terminal reports whether the execution has reached a terminal status.
func (w *WorkflowExecution) Terminal() bool {
	switch w.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
