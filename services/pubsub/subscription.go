// Package pubsub implements realtime.Broker in process and over Redis.
package pubsub

import (
	"sync"

	"github.com/trezcool/darasa/core/realtime"
)

// subscription queues events without bound so publishers never wait on slow readers; events are
// handed to the reader in arrival order.
type subscription struct {
	out   chan realtime.Event
	wake  chan struct{}
	done  chan struct{}
	mu    sync.Mutex
	queue []realtime.Event

	closeOnce sync.Once
	onClose   func()
}

var _ realtime.Subscription = (*subscription)(nil)

func newSubscription(onClose func()) *subscription {
	s := &subscription{
		out:     make(chan realtime.Event),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go s.pump()
	return s
}

func (s *subscription) Events() <-chan realtime.Event { return s.out }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
	return nil
}

func (s *subscription) push(e realtime.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
