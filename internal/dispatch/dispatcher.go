// Package dispatch provides in-process typed event dispatch with durable
// fan-out: every emitted event is also pushed onto the queue under
// events:<type> so observers in other processes can follow along.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
)

// Handler reacts to a single event. Each handler receives its own copy of
// the event data; mutating it does not affect other handlers.
type Handler func(ctx context.Context, data map[string]any) error

// Dispatcher fans events out to locally registered handlers and forwards
// them onto the durable queue. It is safe for concurrent use.
type Dispatcher struct {
	queue  queue.Queue
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func New(q queue.Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    q,
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// RegisterHandler appends h to the handler list for eventType. Handlers are
// invoked in registration order.
func (d *Dispatcher) RegisterHandler(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Emit forwards the event onto the durable queue under events:<type>, then
// synchronously invokes every registered handler for the type. A failing
// handler is logged and does not prevent subsequent handlers from running.
//
// The returned error reports queue transport failure only.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, data map[string]any) error {
	ev := api.Event{Type: eventType, Data: data}
	pushErr := d.queue.Push(ctx, eventChannel(eventType), ev, 0)
	if pushErr != nil {
		d.logger.Error("event queue push failed",
			slog.String("event_type", eventType),
			slog.Any("error", pushErr),
		)
	}

	d.dispatchLocal(ctx, eventType, data)
	return pushErr
}

// Listen consumes events:<eventType> from the queue and re-dispatches each
// event to local handlers. It is used when this process is an observer of
// events emitted elsewhere. Listen returns when ctx is cancelled.
func (d *Dispatcher) Listen(ctx context.Context, eventType string) {
	for payload := range d.queue.Consume(ctx, eventChannel(eventType)) {
		var ev api.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.logger.Error("dropping undecodable event",
				slog.String("channel", eventChannel(eventType)),
				slog.Any("error", err),
			)
			continue
		}
		d.dispatchLocal(ctx, ev.Type, ev.Data)
	}
}

func (d *Dispatcher) dispatchLocal(ctx context.Context, eventType string, data map[string]any) {
	d.mu.RLock()
	handlers := d.handlers[eventType]
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := d.invoke(ctx, h, data); err != nil {
			d.logger.Error("event handler failed",
				slog.String("event_type", eventType),
				slog.Any("error", err),
			)
		}
	}
}

// invoke runs one handler on its own copy of the data and converts panics
// into errors so a misbehaving handler cannot take down the emitter.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, cloneMap(data))
}

func eventChannel(eventType string) string {
	return "events:" + eventType
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case map[string]map[string]any:
		out := make(map[string]map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneMap(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
