package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sync"
	"time"
)

// InMemoryBroker is a Broker backed by process memory. It preserves the
// transport semantics (FIFO lists, competing consumers, pattern fan-out)
// without durability, which makes it the default for tests.
type InMemoryBroker struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*memList
	subs   []*memSub
}

type memList struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items [][]byte
}

type memSub struct {
	pattern string
	ch      chan Notification
}

var _ Broker = (*InMemoryBroker)(nil)

func NewInMemoryBroker(logger *slog.Logger) *InMemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBroker{
		logger: logger,
		queues: make(map[string]*memList),
	}
}

func (b *InMemoryBroker) list(channel string) *memList {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.queues[channel]
	if !ok {
		l = &memList{}
		l.cond = sync.NewCond(&l.mu)
		b.queues[channel] = l
	}
	return l
}

func (b *InMemoryBroker) Push(ctx context.Context, channel string, payload any, priority int) error {
	data, err := EncodeMessage(payload, priority)
	if err != nil {
		return err
	}
	l := b.list(channel)
	l.mu.Lock()
	l.items = append(l.items, data)
	l.mu.Unlock()
	l.cond.Broadcast()
	return nil
}

func (b *InMemoryBroker) Pop(ctx context.Context, channel string, timeout time.Duration) (json.RawMessage, error) {
	l := b.list(channel)

	// Wake waiters when the context is cancelled or the timeout fires; the
	// loop below re-checks both conditions under the lock.
	stop := context.AfterFunc(ctx, l.cond.Broadcast)
	defer stop()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, l.cond.Broadcast)
		defer timer.Stop()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.items) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil, nil
		}
		l.cond.Wait()
	}

	data := l.items[0]
	l.items = l.items[1:]

	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (b *InMemoryBroker) Consume(ctx context.Context, channel string) <-chan json.RawMessage {
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

func (b *InMemoryBroker) Len(ctx context.Context, channel string) (int64, error) {
	l := b.list(channel)
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.items)), nil
}

func (b *InMemoryBroker) HealthCheck(ctx context.Context) Health {
	return Health{Status: HealthStatusHealthy}
}

func (b *InMemoryBroker) PublishNotification(ctx context.Context, channel, eventType string, data map[string]any) error {
	n := Notification{
		EventType: eventType,
		Data:      data,
		Timestamp: nowUnix(),
	}
	dest := "notifications:" + channel

	// Sends happen under the lock so a cancelled subscriber's channel can
	// never be closed mid-send; sends are non-blocking, so the lock is held
	// only briefly.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, dest); !ok {
			continue
		}
		select {
		case s.ch <- n:
		default:
			// Slow subscriber; notifications are ephemeral, drop it.
			b.logger.Warn("dropping notification for slow subscriber",
				slog.String("destination", dest),
			)
		}
	}
	return nil
}

func (b *InMemoryBroker) Subscribe(ctx context.Context, pattern string) <-chan Notification {
	s := &memSub{
		pattern: pattern,
		ch:      make(chan Notification, 64),
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	// Unregister and close when the subscriber's context ends; removal under
	// the lock guarantees no publisher still holds the channel.
	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(s.ch)
	})
	return s.ch
}
