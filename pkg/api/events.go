package api

// Lifecycle event types emitted by the workflow engine.
const (
	EventWorkflowStarted   = "workflow_started"
	EventStepCompleted     = "workflow_step_completed"
	EventStepFailed        = "workflow_step_failed"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowCancelled = "workflow_cancelled"
)

// Event is a typed notification fanned out to registered handlers and
// forwarded onto the durable queue under events:<type> for cross-process
// observers. It is immutable once constructed; handlers each receive their
// own copy of Data.
type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"data"`
}
