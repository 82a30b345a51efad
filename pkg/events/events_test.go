package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToAllHandlersInOrder(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var mu sync.Mutex
	var seenA, seenB []Event
	done := make(chan struct{})

	h.Notify(func(ev Event) {
		mu.Lock()
		seenA = append(seenA, ev)
		mu.Unlock()
	})
	h.Notify(func(ev Event) {
		mu.Lock()
		seenB = append(seenB, ev)
		if len(seenB) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	require.Equal(t, 2, h.HandlerCount())

	h.Publish(Event{Type: ServiceStarted, Service: "etcd"})
	h.Publish(Event{Type: ServiceAllStarted, Service: "etcd"})
	h.Publish(Event{Type: ServiceStopped, Service: "etcd"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Event{
		{Type: ServiceStarted, Service: "etcd"},
		{Type: ServiceAllStarted, Service: "etcd"},
		{Type: ServiceStopped, Service: "etcd"},
	}
	assert.Equal(t, want, seenA)
	assert.Equal(t, want, seenB)
}

func TestHubNeverDropsUnderSlowHandler(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var mu sync.Mutex
	var count int
	h.Notify(func(Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	})

	const n = 150
	for i := 0; i < n; i++ {
		h.Publish(Event{Type: ServiceStarted, Service: "web"})
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := count
		mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got fewer: backpressure must not drop events", n)
}

func TestHubPublishAfterCloseDoesNotBlock(t *testing.T) {
	h := NewHub()
	h.Close()
	h.Close() // idempotent

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish(Event{Type: ServiceStopped, Service: "web"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after close")
	}
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "started", ServiceStarted.String())
	assert.Equal(t, "allStarted", ServiceAllStarted.String())
	assert.Equal(t, "stopped", ServiceStopped.String())
	assert.Equal(t, "unknown", Type(0).String())
}
