package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on a single Redis client.
//
// Each queue channel is a Redis list: Push is LPUSH, Pop is BRPOP, so messages
// come out in push order. Notifications use plain Redis pub/sub (PUBLISH /
// PSUBSCRIBE), which gives the fan-out semantics the durable lists do not.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an already-configured Redis client. The caller owns
// the client's lifecycle (connect on startup, close on shutdown).
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Push(ctx context.Context, channel string, payload any, priority int) error {
	data, err := EncodeMessage(payload, priority)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Pop(ctx context.Context, channel string, timeout time.Duration) (json.RawMessage, error) {
	res, err := b.client.BRPop(ctx, timeout, channel).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// BRPOP timeout, not a transport failure.
			return nil, nil
		}
		return nil, fmt.Errorf("pop from %s: %w", channel, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("pop from %s: unexpected BRPOP reply of %d elements", channel, len(res))
	}
	msg, err := DecodeMessage([]byte(res[1]))
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (b *RedisBroker) Consume(ctx context.Context, channel string) <-chan json.RawMessage {
	out := make(chan json.RawMessage)
	go func() {
		defer close(out)
		for {
			payload, err := b.Pop(ctx, channel, 0)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("consume failed, retrying",
					slog.String("channel", channel),
					slog.Any("error", err),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(consumeRetryPause):
				}
				continue
			}
			if payload == nil {
				continue
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (b *RedisBroker) Len(ctx context.Context, channel string) (int64, error) {
	n, err := b.client.LLen(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", channel, err)
	}
	return n, nil
}

func (b *RedisBroker) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	if err := b.client.Ping(ctx).Err(); err != nil {
		return Health{
			Status: HealthStatusUnhealthy,
			Err:    err.Error(),
		}
	}
	h := Health{
		Status:    HealthStatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}
	// INFO is best-effort detail; the ping already decided the status.
	if info, err := b.client.InfoMap(ctx, "server", "clients").Result(); err == nil {
		h.Details = map[string]string{}
		if server, ok := info["Server"]; ok {
			h.Details["version"] = server["redis_version"]
		}
		if clients, ok := info["Clients"]; ok {
			h.Details["connected_clients"] = clients["connected_clients"]
		}
	}
	return h
}

func (b *RedisBroker) PublishNotification(ctx context.Context, channel, eventType string, data map[string]any) error {
	n := Notification{
		EventType: eventType,
		Data:      data,
		Timestamp: nowUnix(),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	dest := "notifications:" + channel
	if err := b.client.Publish(ctx, dest, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", dest, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, pattern string) <-chan Notification {
	out := make(chan Notification)
	pubsub := b.client.PSubscribe(ctx, pattern)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Error("dropping undecodable notification",
						slog.String("pattern", pattern),
						slog.String("source", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
