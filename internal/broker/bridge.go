package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
)

var (
	ErrNotStarted = errors.New("broker bridge is not started")
	ErrClosed     = errors.New("broker bridge is closed")
)

// Handler receives a payload published to a locally subscribed user.
type Handler func(ctx context.Context, userID string, payload []byte)

// ClaimHandler is told that another process registered a locally subscribed
// user.
type ClaimHandler func(ctx context.Context, userID string)

type inbound struct {
	userID  string
	payload []byte
	claimed bool
}

type claim struct {
	Origin string `json:"origin"`
}

// Bridge connects the per-user channels of the shared broker to this process.
// Every subscribed user's channel is forwarded into one inbound stream that
// Listen hands to the handler.
type Bridge struct {
	id      string
	ps      pubsub.PubSub
	inbound chan inbound

	mu         sync.Mutex
	base       context.Context
	handler    Handler
	onClaimed  ClaimHandler
	forwarders map[string]context.CancelFunc
	closed     bool
}

// New creates a bridge over ps. It must be started before use.
func New(ps pubsub.PubSub) *Bridge {
	return &Bridge{
		id:         uuid.NewString(),
		ps:         ps,
		inbound:    make(chan inbound, 256),
		forwarders: make(map[string]context.CancelFunc),
	}
}

// Start binds the bridge to ctx and the handlers that Listen will call.
// Forwarders started by Subscribe stop when ctx is done. onClaimed may be nil.
func (b *Bridge) Start(ctx context.Context, handler Handler, onClaimed ClaimHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.base = ctx
	b.handler = handler
	b.onClaimed = onClaimed
	return nil
}

// Listen dispatches inbound payloads until ctx is done.
func (b *Bridge) Listen(ctx context.Context) error {
	b.mu.Lock()
	handler, onClaimed := b.handler, b.onClaimed
	b.mu.Unlock()
	if handler == nil {
		return ErrNotStarted
	}

	l := log.L()
	l.Info().Msg("broker listener started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-b.inbound:
			if !in.claimed {
				handler(ctx, in.userID, in.payload)
			} else if onClaimed != nil {
				onClaimed(ctx, in.userID)
			}
		}
	}
}

// Subscribe starts forwarding the user's channel. An existing subscription of
// the same user is replaced.
func (b *Bridge) Subscribe(ctx context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.base == nil {
		return ErrNotStarted
	}
	if cancel, ok := b.forwarders[userID]; ok {
		cancel()
		delete(b.forwarders, userID)
	}

	fctx, cancel := context.WithCancel(b.base)
	ch, err := b.ps.Subscribe(fctx, pubsub.UserChannel(userID))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", userID, err)
	}
	b.forwarders[userID] = cancel

	go b.forward(fctx, userID, ch)
	return nil
}

func (b *Bridge) forward(ctx context.Context, userID string, ch <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			in, ok := b.inboundFor(userID, ev)
			if !ok {
				continue
			}
			select {
			case b.inbound <- in:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bridge) inboundFor(userID string, ev *pubsub.Event) (inbound, bool) {
	switch ev.Type {
	case pubsub.EventChatPayload:
		return inbound{userID: userID, payload: ev.Payload}, true
	case pubsub.EventSessionClaimed:
		var c claim
		if err := ev.UnmarshalPayload(&c); err != nil || c.Origin == b.id {
			return inbound{}, false
		}
		return inbound{userID: userID, claimed: true}, true
	default:
		l := log.L()
		l.Debug().Str("type", ev.Type).Str(log.FieldUserID, userID).Msg("ignoring broker event")
		return inbound{}, false
	}
}

// Unsubscribe stops forwarding the user's channel.
func (b *Bridge) Unsubscribe(ctx context.Context, userID string) error {
	b.mu.Lock()
	cancel, ok := b.forwarders[userID]
	delete(b.forwarders, userID)
	closed := b.closed
	b.mu.Unlock()

	if !ok || closed {
		return nil
	}
	cancel()
	return b.ps.Unsubscribe(ctx, pubsub.UserChannel(userID))
}

// Publish sends an encoded chat payload to the user's channel.
func (b *Bridge) Publish(ctx context.Context, userID string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ev := &pubsub.Event{
		Type:      pubsub.EventChatPayload,
		TargetID:  userID,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	}
	if err := b.ps.Publish(ctx, pubsub.UserChannel(userID), ev); err != nil {
		return fmt.Errorf("publish to %s: %w", userID, err)
	}
	return nil
}

// Claim tells every other process that userID is now connected here.
func (b *Bridge) Claim(ctx context.Context, userID string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ev, err := pubsub.NewEvent(pubsub.EventSessionClaimed, userID, claim{Origin: b.id})
	if err != nil {
		return err
	}
	if err := b.ps.Publish(ctx, pubsub.UserChannel(userID), ev); err != nil {
		return fmt.Errorf("claim %s: %w", userID, err)
	}
	return nil
}

// Subscribed reports how many users are currently forwarded.
func (b *Bridge) Subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.forwarders)
}

// Close stops every forwarder and closes the broker client.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for userID, cancel := range b.forwarders {
		cancel()
		delete(b.forwarders, userID)
	}
	b.mu.Unlock()

	return b.ps.Close()
}
