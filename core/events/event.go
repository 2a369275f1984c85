package events

import (
	"sync"

	"tipjar/core/types"
)

// Event represents a structured state change emitted by the runtime.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as the wire
// level types.Event.
type Payload interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Raw wraps an already rendered types.Event.
type Raw struct {
	Evt *types.Event
}

func (r Raw) EventType() string {
	if r.Evt == nil {
		return ""
	}
	return r.Evt.Type
}

func (r Raw) Event() *types.Event { return r.Evt }

// Collector buffers events in emission order. The runtime hands one to each
// transaction and only forwards the contents once the transaction commits.
type Collector struct {
	events []Event
}

func (c *Collector) Emit(evt Event) {
	if evt == nil {
		return
	}
	c.events = append(c.events, evt)
}

// Events returns the buffered events.
func (c *Collector) Events() []Event {
	return append([]Event(nil), c.events...)
}

// Broadcaster fans events out to subscribers. Slow subscribers lose events
// instead of blocking the emitter.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
	// OnDrop, when set before the first Emit, is called once per event a
	// subscriber missed.
	OnDrop func()
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel function unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.OnDrop != nil {
				b.OnDrop()
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Multi forwards every event to each emitter in order.
type Multi []Emitter

func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
