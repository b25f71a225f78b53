// Package events fans ledger events out to live subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event and can
// catch up from the journal.
package events

import (
	"sync"
	"sync/atomic"

	"timelock.mini/tlm/internal/types"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus is an append-only broadcaster of ledger events.
type Bus struct {
	mu      sync.RWMutex
	clients map[chan types.Event]struct{}
	buffer  int
	dropped atomic.Uint64
	sinks   []func(types.Event)
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		clients: make(map[chan types.Event]struct{}),
		buffer:  buffer,
	}
}

// Subscribe registers a new subscriber. The returned func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// OnEvent registers a synchronous hook invoked for every event. Hooks must
// return quickly.
func (b *Bus) OnEvent(fn func(types.Event)) {
	b.mu.Lock()
	b.sinks = append(b.sinks, fn)
	b.mu.Unlock()
}

// Emit implements ledger.EventSink.
func (b *Bus) Emit(ev types.Event) {
	b.Publish(ev)
}

func (b *Bus) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.sinks {
		fn(ev)
	}
	for client := range b.clients {
		select {
		case client <- ev:
		default:
			// Client is slow/blocked, skip
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
