package driver

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives one event. Handlers run on the publishing goroutine, so a
// driver that publishes from a single reader loop delivers events to every
// subscriber in emission order.
type Handler func(Event)

// Subscription identifies one (kind, handler) registration.
type Subscription struct {
	ID   uuid.UUID
	Kind EventKind
}

type busEntry struct {
	id      uuid.UUID
	handler Handler
}

// Bus is the subscription table drivers publish device events through.
// Registration and removal are safe while a publish iterates the table.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventKind][]busEntry
}

func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind][]busEntry)}
}

func (b *Bus) Subscribe(kind EventKind, h Handler) Subscription {
	sub := Subscription{ID: uuid.New(), Kind: kind}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], busEntry{id: sub.ID, handler: h})
	b.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[sub.Kind]
	for i, e := range entries {
		if e.id == sub.ID {
			b.subs[sub.Kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every handler subscribed to its kind, in
// registration order. The handler snapshot is taken under the read lock so
// handlers may subscribe or unsubscribe without deadlocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	entries := make([]busEntry, len(b.subs[ev.Kind]))
	copy(entries, b.subs[ev.Kind])
	b.mu.RUnlock()

	for _, e := range entries {
		e.handler(ev)
	}
}

// SubscriberCount reports how many handlers are registered for kind.
func (b *Bus) SubscriberCount(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
