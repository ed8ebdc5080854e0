// Package event provides a pub/sub event system for the server using watermill.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies the kind of event.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionDeleted Type = "session.deleted"
	RunStarted     Type = "run.started"
	RunCompleted   Type = "run.completed"
	RunFailed      Type = "run.failed"
	RunCancelled   Type = "run.cancelled"
	SkillInstalled Type = "skill.installed"
	SkillRemoved   Type = "skill.removed"
	CommandSaved   Type = "command.saved"
	CommandRemoved Type = "command.removed"
)

// Event is a typed notification published on the bus.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// SessionData accompanies session lifecycle events.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// RunData accompanies run lifecycle events.
type RunData struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Error     string `json:"error,omitempty"`
}

// ExtensionData accompanies skill and command events.
type ExtensionData struct {
	ID string `json:"id"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub over a watermill gochannel. Subscriber dispatch is
// direct-call so event payloads keep their Go types.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
	}
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := subscriberEntry{id: atomic.AddUint64(&b.nextID, 1), fn: fn}
	b.subscribers[eventType] = append(b.subscribers[eventType], entry)

	return func() { b.unsubscribe(eventType, entry.id) }
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := subscriberEntry{id: atomic.AddUint64(&b.nextID, 1), fn: fn}
	b.global = append(b.global, entry)

	return func() { b.unsubscribeGlobal(entry.id) }
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// collect gathers the subscribers for an event under the read lock.
func (b *Bus) collect(eventType Type) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish sends an event to all subscribers asynchronously.
// Each subscriber is called in its own goroutine to prevent blocking.
func (b *Bus) Publish(event Event) {
	for _, sub := range b.collect(event.Type) {
		go sub(event)
	}
}

// PublishSync sends an event to all subscribers in the current goroutine.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel for middleware or a
// future distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
