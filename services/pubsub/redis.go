package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

const redisChannelPrefix = "darasa:"

type redisBroker struct {
	client *redis.Client
	logger core.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

var _ realtime.Broker = (*redisBroker)(nil)

// NewRedisBroker returns a Broker fanning events out through Redis pub/sub, so every API instance
// reaches its own subscribers.
func NewRedisBroker(client *redis.Client, logger core.Logger) *redisBroker {
	return &redisBroker{
		client: client,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

func (b *redisBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *redisBroker) Publish(ctx context.Context, events ...realtime.Event) error {
	if b.isClosed() {
		return realtime.ErrClosed
	}
	pipe := b.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshalling event")
		}
		pipe.Publish(ctx, redisChannelPrefix+e.Topic, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publishing events")
	}
	return nil
}

func (b *redisBroker) Subscribe(ctx context.Context, topics ...string) (realtime.Subscription, error) {
	if b.isClosed() {
		return nil, realtime.ErrClosed
	}
	channels := make([]string, 0, len(topics))
	for _, topic := range topics {
		channels = append(channels, redisChannelPrefix+topic)
	}

	ps := b.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "subscribing")
	}

	var sub *subscription
	sub = newSubscription(func() {
		_ = ps.Close()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.receive(ctx, ps, sub)
	return sub, nil
}

func (b *redisBroker) receive(ctx context.Context, ps *redis.PubSub, sub *subscription) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.done:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = sub.Close()
				return
			}
			var e realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Error(fmt.Sprintf("pubsub: unmarshalling event from %s: %v", msg.Channel, err), err)
				continue
			}
			sub.push(e)
		}
	}
}

// Close closes the open subscriptions; the client is owned by the caller.
func (b *redisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
