// Package queue provides the durable FIFO queue and the pattern-based
// publish/subscribe bus the orchestrator is built on.
//
// The two abstractions are deliberately distinct: Queue consumers on the same
// channel compete for messages (fan-in), while Bus subscribers each receive
// every matching message (fan-out).
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the on-wire envelope around every payload pushed to a channel.
type Message struct {
	Data      json.RawMessage `json:"data"`
	Priority  int             `json:"priority"`
	Timestamp float64         `json:"timestamp"`
}

// Health is the result of a broker health check. HealthCheck never fails;
// transport problems are reported through Status and Err instead.
type Health struct {
	Status    string            `json:"status"`
	LatencyMS float64           `json:"latency_ms"`
	Details   map[string]string `json:"details,omitempty"`
	Err       string            `json:"error,omitempty"`
}

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// consumeRetryPause is how long Consume waits after a transport error
// before trying again.
const consumeRetryPause = time.Second

// Queue is a durable, multi-consumer FIFO list per named channel.
type Queue interface {
	// Push wraps payload in a Message, serializes it and appends it to the
	// channel. It never blocks on capacity and fails only on transport error.
	Push(ctx context.Context, channel string, payload any, priority int) error

	// Pop removes and returns the oldest payload on the channel, blocking up
	// to timeout. It returns (nil, nil) on timeout; timeout 0 blocks until a
	// message arrives or ctx is cancelled. Transport errors are returned and
	// are retryable by re-invoking.
	Pop(ctx context.Context, channel string, timeout time.Duration) (json.RawMessage, error)

	// Consume returns a channel yielding payloads until ctx is cancelled.
	// Transport errors are logged and retried after a fixed pause; they never
	// terminate the sequence.
	Consume(ctx context.Context, channel string) <-chan json.RawMessage

	// Len returns the number of messages waiting on the channel.
	Len(ctx context.Context, channel string) (int64, error)

	// HealthCheck round-trips the transport and reports the outcome.
	HealthCheck(ctx context.Context) Health
}

// Notification is the envelope published on the bus.
type Notification struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// Bus is an ephemeral, pattern-matched broadcast channel.
type Bus interface {
	// PublishNotification sends a tagged envelope to notifications:<channel>.
	// Messages published while nobody is subscribed are dropped.
	PublishNotification(ctx context.Context, channel, eventType string, data map[string]any) error

	// Subscribe returns a channel of notifications whose destination matches
	// the glob pattern (e.g. "notifications:*"). Per-message decode errors
	// are logged and skipped. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, pattern string) <-chan Notification
}

// Broker combines the durable queue and the notification bus, matching how
// a single transport connection typically backs both.
type Broker interface {
	Queue
	Bus
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
