package notify

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker[string]()
	first := b.Subscribe(4)
	second := b.Subscribe(4)

	assert.Equal(t, 2, b.Publish("quake"))
	assert.Equal(t, "quake", <-first.C)
	assert.Equal(t, "quake", <-second.C)
}

func TestBroker_NoSubscribers(t *testing.T) {
	b := NewBroker[int]()
	assert.Equal(t, 0, b.Publish(1))
}

func TestBroker_FullSubscriberDoesNotBlock(t *testing.T) {
	var dropped atomic.Int64
	b := NewBroker[int](WithDropHook[int](func() { dropped.Add(1) }))
	slow := b.Subscribe(1)
	fast := b.Subscribe(10)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, int64(4), dropped.Load())
	assert.Equal(t, 0, <-slow.C)
	assert.Len(t, fast.C, 5)
}

func TestBroker_NoReplay(t *testing.T) {
	b := NewBroker[string]()
	b.Publish("before")

	late := b.Subscribe(4)
	b.Publish("after")

	assert.Equal(t, "after", <-late.C)
	assert.Empty(t, late.C)
}

func TestSubscription_Close(t *testing.T) {
	b := NewBroker[string]()
	sub := b.Subscribe(1)
	require.Equal(t, 1, b.Len())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, b.Len())
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish("ignored"))
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker[string]()
	sub := b.Subscribe(1)

	b.Close()
	_, ok := <-sub.C
	assert.False(t, ok)

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
	late.Close()
	assert.Equal(t, 0, b.Publish("ignored"))
}
