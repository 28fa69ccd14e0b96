// Package inflight makes mutating actions exactly-once while pending: a second call with the same key
// is rejected until the first one returns.
package inflight

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrInFlight = errors.New("this action is already in progress")

// Guard runs fn unless a call with the same key is still pending.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Key builds a guard key from the action, the acting user and the target.
func Key(action, uid, target string) string {
	return action + ":" + uid + ":" + target
}

type memoryGuard struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

var _ Guard = (*memoryGuard)(nil)

// NewMemoryGuard returns an in-process Guard.
func NewMemoryGuard() Guard {
	return &memoryGuard{pending: make(map[string]struct{})}
}

func (g *memoryGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if _, ok := g.pending[key]; ok {
		g.mu.Unlock()
		return ErrInFlight
	}
	g.pending[key] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, key)
		g.mu.Unlock()
	}()
	return fn(ctx)
}
