// Package notify is the best-effort db_change notification bus (spec
// §4.11/§6): cache-invalidation hints for UI and dependent services, never a
// correctness dependency. Any component losing every subscriber still
// behaves correctly by re-reading the Store.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Change describes one committed mutation to a watched table.
type Change struct {
	Table string `json:"table"`
	User  string `json:"user"`
}

// Subscriber receives Change notifications. Implementations must not block;
// Bus.Publish fans out without waiting on slow subscribers.
type Subscriber func(Change)

// Bus is an in-process pub/sub used when publisher and subscriber are
// collocated in the same binary, in place of an HTTP callback.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	log         zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "notify").Logger()}
}

// Subscribe registers a new subscriber. Not safe to call concurrently with
// itself, but safe to call while Publish is in-flight from another goroutine.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Publish fans Change out to every subscriber on its own goroutine so a slow
// or panicking subscriber can never block the writer that published it.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	b.log.Debug().Str("table", change.Table).Str("user", change.User).Msg("db_change published")

	for _, sub := range subs {
		go func(s Subscriber) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Msg("notify subscriber panicked")
				}
			}()
			s(change)
		}(sub)
	}
}
