package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

type memoryBroker struct {
	logger core.Logger
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	closed bool
}

var _ realtime.Broker = (*memoryBroker)(nil)

// NewMemoryBroker returns a Broker that only reaches subscribers of this process.
func NewMemoryBroker(logger core.Logger) *memoryBroker {
	return &memoryBroker{
		logger: logger,
		topics: make(map[string]map[*subscription]struct{}),
	}
}

func (b *memoryBroker) Publish(_ context.Context, events ...realtime.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return realtime.ErrClosed
	}
	for _, e := range events {
		for sub := range b.topics[e.Topic] {
			b.deliver(sub, e)
		}
	}
	return nil
}

func (b *memoryBroker) deliver(sub *subscription, e realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Sprintf("pubsub: delivering %s event on %s panicked: %v", e.Kind, e.Topic, r))
		}
	}()
	sub.push(e)
}

func (b *memoryBroker) Subscribe(ctx context.Context, topics ...string) (realtime.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, realtime.ErrClosed
	}

	var sub *subscription
	sub = newSubscription(func() { b.unsubscribe(sub, topics) })
	for _, topic := range topics {
		subs, ok := b.topics[topic]
		if !ok {
			subs = make(map[*subscription]struct{})
			b.topics[topic] = subs
		}
		subs[sub] = struct{}{}
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (b *memoryBroker) unsubscribe(sub *subscription, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		if subs, ok := b.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
}

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := make(map[*subscription]struct{})
	for _, subs := range b.topics {
		for sub := range subs {
			all[sub] = struct{}{}
		}
	}
	b.mu.Unlock()

	for sub := range all {
		_ = sub.Close()
	}
	b.logger.Info("pubsub: memory broker closed")
	return nil
}
