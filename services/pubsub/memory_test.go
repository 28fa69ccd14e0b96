package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/realtime"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func recv(t *testing.T, sub realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return realtime.Event{}
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(nopLogger{})
	defer func() { _ = b.Close() }()

	sub, err := b.Subscribe(ctx, "class:1", "class:1:announcements")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "class:2")
	require.NoError(t, err)

	events := make([]realtime.Event, 0, 50)
	for i := 1; i <= 50; i++ {
		e, err := realtime.NewEvent("class:1", realtime.KindModified, realtime.EntityClass, "1", int64(i), nil)
		require.NoError(t, err)
		events = append(events, e)
	}
	require.NoError(t, b.Publish(ctx, events...))
	ann, err := realtime.NewEvent("class:1:announcements", realtime.KindAdded, realtime.EntityAnnouncement, "a1", 1, map[string]string{"content": "hi"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, ann))

	for i := 1; i <= 50; i++ {
		assert.Equal(t, int64(i), recv(t, sub).Version)
	}
	got := recv(t, sub)
	assert.Equal(t, "a1", got.ID)
	assert.JSONEq(t, `{"content":"hi"}`, string(got.Data))

	select {
	case e := <-other.Events():
		t.Fatalf("unexpected event on other topic: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_Close(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemoryBroker(nopLogger{})

	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	// cancelling the context closes the subscription
	cancel()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	b.mu.RLock()
	assert.Empty(t, b.topics)
	b.mu.RUnlock()

	sub2, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, ok := <-sub2.Events()
	assert.False(t, ok)

	assert.Equal(t, realtime.ErrClosed, b.Publish(context.Background(), realtime.Event{Topic: "t"}))
	_, err = b.Subscribe(context.Background(), "t")
	assert.Equal(t, realtime.ErrClosed, err)
	assert.NoError(t, sub2.Close())
}
