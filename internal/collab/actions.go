package collab

import (
	"context"
	"log/slog"

	"github.com/petrijr/chatflow/pkg/api"
)

// EchoRunner is a stand-in ActionRunner that reports success and echoes the
// operation back. Useful for local runs and wiring tests; a deployment
// replaces it with a client for the real external system.
type EchoRunner struct {
	logger *slog.Logger
}

var _ api.ActionRunner = (*EchoRunner)(nil)

func NewEchoRunner(logger *slog.Logger) *EchoRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoRunner{logger: logger}
}

func (r *EchoRunner) Execute(ctx context.Context, op api.Operation) (api.ActionResult, error) {
	r.logger.Info("executing operation",
		slog.String("operation_type", op.Type),
		slog.Int("parameters", len(op.Parameters)),
	)
	fields := map[string]any{"echoed": true}
	for k, v := range op.Parameters {
		fields[k] = v
	}
	return api.ActionResult{Success: true, Fields: fields}, nil
}
