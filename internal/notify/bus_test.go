package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	received := make([]Change, 0, 2)
	done := make(chan struct{}, 2)

	record := func(c Change) {
		mu.Lock()
		received = append(received, c)
		mu.Unlock()
		done <- struct{}{}
	}
	bus.Subscribe(record)
	bus.Subscribe(record)

	bus.Publish(Change{Table: "trades_alice", User: "alice"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for subscriber")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 2)
	assert.Equal(t, "trades_alice", received[0].Table)
}

func TestBus_NoSubscribersDoesNotBlockOrPanic(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Publish(Change{Table: "active_trades_bob", User: "bob"})
	})
}

func TestBus_PanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	done := make(chan struct{}, 1)

	bus.Subscribe(func(Change) { panic("boom") })
	bus.Subscribe(func(Change) { done <- struct{}{} })

	bus.Publish(Change{Table: "trades_carl", User: "carl"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber was never called")
	}
}
