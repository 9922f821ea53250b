package service

import (
	"context"

	"github.com/weiawesome/wes-match-chat/internal/broker"
)

// Conn is one live client connection.
type Conn interface {
	// Receive blocks for the next inbound frame. A peer-initiated close is
	// reported as domain.ErrConnectionClosed.
	Receive() ([]byte, error)
	// Send queues an outbound frame without blocking.
	Send(data []byte) error
	// Close sends a close frame and releases the connection.
	Close(code int, reason string) error
}

// Broker carries payloads to users connected to other processes.
type Broker interface {
	Start(ctx context.Context, handler broker.Handler, onClaimed broker.ClaimHandler) error
	Listen(ctx context.Context) error
	Subscribe(ctx context.Context, userID string) error
	Unsubscribe(ctx context.Context, userID string) error
	Publish(ctx context.Context, userID string, payload []byte) error
	Claim(ctx context.Context, userID string) error
	Close() error
}
