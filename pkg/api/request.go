package api

import "context"

// ChatRequest is the inbound work item produced by the chat collaborator.
// It arrives JSON-encoded on a category queue.
type ChatRequest struct {
	RequesterID   string `json:"requester_id"`
	DestinationID string `json:"destination_id"`
	Command       string `json:"command_text"`
	Category      string `json:"category"`
}

// ProcessedRequest is the output of the intent-extraction collaborator.
// Confidence is pass-through data; the engine applies no threshold logic.
type ProcessedRequest struct {
	OriginalText string            `json:"original_text"`
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Entities     map[string]string `json:"entities"`
}

// Processor extracts intent and entities from free-form command text.
type Processor interface {
	Process(ctx context.Context, text string) (ProcessedRequest, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, text string) (ProcessedRequest, error)

func (f ProcessorFunc) Process(ctx context.Context, text string) (ProcessedRequest, error) {
	return f(ctx, text)
}

// Operation describes one external-system action derived from a request.
type Operation struct {
	Type       string         `json:"operation_type"`
	Parameters map[string]any `json:"parameters"`
}

// ActionResult is the outcome reported by the external-operations collaborator.
// A result with Success=false carries a human-readable Error; extra
// operation-specific output lands in Fields.
type ActionResult struct {
	Success bool
	Fields  map[string]any
	Error   string
}

// ActionRunner performs external-system operations (repository, branch,
// file and pull-request actions). Implemented outside this module.
type ActionRunner interface {
	Execute(ctx context.Context, op Operation) (ActionResult, error)
}

// ActionFunc adapts a function to the ActionRunner interface.
type ActionFunc func(ctx context.Context, op Operation) (ActionResult, error)

func (f ActionFunc) Execute(ctx context.Context, op Operation) (ActionResult, error) {
	return f(ctx, op)
}
