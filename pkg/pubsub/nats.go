package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// channelToSubject converts a Redis-style channel to a NATS subject.
//
//	"chat:user:U123:to_client" → "chat.user.U123.to_client"
func channelToSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NATSPubSub implements PubSub interface using NATS core subjects.
type NATSPubSub struct {
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	mu            sync.Mutex
}

// NewNATSPubSub connects to the configured NATS server.
func NewNATSPubSub(cfg NATSConfig) (*NATSPubSub, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l := log.L()
			l.Warn().Err(err).Msg("nats pubsub disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l := log.L()
			l.Info().Str("url", c.ConnectedUrl()).Msg("nats pubsub reconnected")
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSPubSub{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
	}, nil
}

// Publish publishes an event to the subject derived from channel.
func (n *NATSPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(channelToSubject(channel), data); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (n *NATSPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.subscriptions[channel]; ok {
		existing.cancel()
		existing.sub.Unsubscribe()
		delete(n.subscriptions, channel)
	}

	msgCh := make(chan *nats.Msg, 100)
	sub, err := n.conn.ChanSubscribe(channelToSubject(channel), msgCh)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	if err := n.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	n.subscriptions[channel] = &natsSubscription{sub: sub, cancel: cancel}

	eventCh := make(chan *Event, 100)
	go n.processMessages(subCtx, msgCh, eventCh)

	return eventCh, nil
}

func (n *NATSPubSub) processMessages(ctx context.Context, msgCh <-chan *nats.Msg, eventCh chan<- *Event) {
	defer close(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("subject", msg.Subject).Msg("nats pubsub: invalid event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
			}
		}
	}
}

// Unsubscribe unsubscribes from a channel.
func (n *NATSPubSub) Unsubscribe(ctx context.Context, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.subscriptions[channel]; ok {
		s.cancel()
		delete(n.subscriptions, channel)
		if err := s.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
		}
	}
	return nil
}

// Close drops all subscriptions and closes the connection.
func (n *NATSPubSub) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for key, s := range n.subscriptions {
		s.cancel()
		s.sub.Unsubscribe()
		delete(n.subscriptions, key)
	}
	n.conn.Close()
	return nil
}
