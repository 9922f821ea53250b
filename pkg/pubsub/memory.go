package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed PubSub.
var ErrClosed = errors.New("pubsub: closed")

// MemoryBus is an in-process message bus. Several MemoryPubSub instances
// attached to the same bus behave like separate processes sharing a broker.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

type memorySubscription struct {
	channel string
	ch      chan *Event
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBus) publish(channel string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub.channel != channel {
			continue
		}
		// each subscriber decodes its own copy
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		select {
		case sub.ch <- &event:
		default:
			// Channel full, skip message
		}
	}
}

func (b *MemoryBus) add(sub *memorySubscription) {
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// MemoryPubSub implements PubSub on top of a MemoryBus.
type MemoryPubSub struct {
	bus           *MemoryBus
	subscriptions map[string]*memorySubscription
	closed        bool
	mu            sync.Mutex
}

// NewMemoryPubSub attaches a new client to bus. A nil bus gets a private one.
func NewMemoryPubSub(bus *MemoryBus) *MemoryPubSub {
	if bus == nil {
		bus = NewMemoryBus()
	}
	return &MemoryPubSub{
		bus:           bus,
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish publishes an event to the specified channel.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	m.bus.publish(channel, data)
	return nil
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if existing, ok := m.subscriptions[channel]; ok {
		m.bus.remove(existing)
	}

	sub := &memorySubscription{channel: channel, ch: make(chan *Event, 100)}
	m.subscriptions[channel] = sub
	m.bus.add(sub)
	return sub.ch, nil
}

// Unsubscribe unsubscribes from a channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscriptions[channel]; ok {
		m.bus.remove(sub)
		delete(m.subscriptions, channel)
	}
	return nil
}

// Close closes all subscriptions of this client.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, sub := range m.subscriptions {
		m.bus.remove(sub)
		delete(m.subscriptions, key)
	}
	m.closed = true
	return nil
}
