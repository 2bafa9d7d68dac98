package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/petrijr/chatflow/pkg/api"
)

// LoggingHandler returns a Handler that writes a structured log line for
// every event it sees. Register it for each event type of interest.
func LoggingHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, data map[string]any) error {
		attrs := make([]any, 0, len(data)*2)
		for _, k := range []string{"execution_id", "step_id", "error"} {
			if v, ok := data[k]; ok {
				attrs = append(attrs, slog.Any(k, v))
			}
		}
		logger.InfoContext(ctx, "workflow_event", attrs...)
		return nil
	}
}

// Metrics counts workflow lifecycle events. It is safe for concurrent use
// and is wired into a Dispatcher via Register.
type Metrics struct {
	workflowsCompleted atomic.Int64
	workflowsFailed    atomic.Int64
	stepsCompleted     atomic.Int64
	stepsFailed        atomic.Int64
}

// MetricsSnapshot is an immutable snapshot of Metrics.
type MetricsSnapshot struct {
	WorkflowsCompleted int64
	WorkflowsFailed    int64
	StepsCompleted     int64
	StepsFailed        int64
}

// Register subscribes the metric counters to the engine's lifecycle events.
func (m *Metrics) Register(d *Dispatcher) {
	d.RegisterHandler(api.EventWorkflowCompleted, m.count(&m.workflowsCompleted))
	d.RegisterHandler(api.EventStepFailed, func(ctx context.Context, data map[string]any) error {
		m.stepsFailed.Add(1)
		m.workflowsFailed.Add(1)
		return nil
	})
	d.RegisterHandler(api.EventStepCompleted, m.count(&m.stepsCompleted))
}

func (m *Metrics) count(c *atomic.Int64) Handler {
	return func(ctx context.Context, data map[string]any) error {
		c.Add(1)
		return nil
	}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		WorkflowsCompleted: m.workflowsCompleted.Load(),
		WorkflowsFailed:    m.workflowsFailed.Load(),
		StepsCompleted:     m.stepsCompleted.Load(),
		StepsFailed:        m.stepsFailed.Load(),
	}
}
