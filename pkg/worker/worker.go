// Package worker runs the consumer loops that bridge inbound request queues
// to the workflow engine: one long-running loop per category channel.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/petrijr/chatflow/internal/engine"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
)

// Engine is the slice of the workflow engine the worker needs.
type Engine interface {
	HandleRequest(ctx context.Context, req api.ChatRequest, category string) (*api.WorkflowExecution, error)
}

// Worker consumes inbound request channels and dispatches each decoded
// request to the engine in its own goroutine. A bad message is logged and
// skipped; it never stops a loop.
type Worker struct {
	engine Engine
	queue  queue.Queue
	logger *slog.Logger

	// channels maps queue channel name to request category.
	channels map[string]string
}

// DefaultChannels maps the built-in inbound channels to their categories.
func DefaultChannels() map[string]string {
	return map[string]string{
		"action_requests":     engine.CategoryAction,
		"generation_requests": engine.CategoryGeneration,
		"review_requests":     engine.CategoryReview,
	}
}

// New creates a Worker. A nil channels map selects DefaultChannels.
func New(eng Engine, q queue.Queue, channels map[string]string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if channels == nil {
		channels = DefaultChannels()
	}
	return &Worker{
		engine:   eng,
		queue:    q,
		logger:   logger,
		channels: channels,
	}
}

// Run starts one consumer loop per channel and blocks until ctx is
// cancelled and all loops have drained.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for channel, category := range w.channels {
		wg.Add(1)
		go func(channel, category string) {
			defer wg.Done()
			w.consume(ctx, channel, category)
		}(channel, category)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) consume(ctx context.Context, channel, category string) {
	w.logger.Info("consumer loop started",
		slog.String("channel", channel),
		slog.String("category", category),
	)
	for payload := range w.queue.Consume(ctx, channel) {
		var req api.ChatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			w.logger.Error("dropping undecodable request",
				slog.String("channel", channel),
				slog.Any("error", err),
			)
			continue
		}

		// Each request gets its own concurrent task; requests on the same
		// channel do not serialize behind one another.
		go func(req api.ChatRequest) {
			if _, err := w.engine.HandleRequest(ctx, req, category); err != nil {
				w.logger.Error("request handling failed",
					slog.String("channel", channel),
					slog.String("requester", req.RequesterID),
					slog.Any("error", err),
				)
			}
		}(req)
	}
	w.logger.Info("consumer loop stopped", slog.String("channel", channel))
}
