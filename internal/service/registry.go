package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

var (
	ErrCapacityExceeded = errors.New("connection capacity exceeded")
	ErrNotConnected     = errors.New("user is not connected")
)

// Add registers a connection for userID. The capacity check runs before
// upgrade, so a rejected caller never completes a handshake. An existing
// connection of the same user is closed and replaced. Queued payloads are
// re-delivered in order; when there are none, unread messages are fetched
// from the gateway instead. Other processes holding the user are told to
// close their connection.
func (m *Manager) Add(ctx context.Context, userID string, upgrade func() (Conn, error)) (Conn, error) {
	conn, drained, err := m.register(ctx, userID, upgrade)
	if err != nil {
		return nil, err
	}

	if err := m.broker.Claim(ctx, userID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to claim session")
	}

	if drained == 0 {
		m.backfillUnread(ctx, userID)
	}
	return conn, nil
}

func (m *Manager) register(ctx context.Context, userID string, upgrade func() (Conn, error)) (Conn, int, error) {
	ctx, release := m.section.Enter(ctx)
	defer release()

	l := log.Ctx(ctx)

	old, exists := m.conns[userID]
	if !exists && m.cfg.MaxConnections > 0 && len(m.conns) >= m.cfg.MaxConnections {
		return nil, 0, ErrCapacityExceeded
	}

	conn, err := upgrade()
	if err != nil {
		return nil, 0, fmt.Errorf("handshake failed: %w", err)
	}

	if exists {
		l.Info().Msg("user already connected, replacing connection")
		m.removeLocked(ctx, userID, old, domain.CloseNormal, domain.ReasonReplaced)
	}

	now := m.now()
	m.conns[userID] = &connection{
		conn:         conn,
		connectedAt:  now,
		lastReceived: now,
	}
	if err := m.broker.Subscribe(ctx, userID); err != nil {
		l.Error().Err(err).Msg("failed to subscribe user channel")
	}
	l.Info().Int("connections", len(m.conns)).Msg("user connected")

	queued := m.queue.Drain(userID)
	for _, raw := range queued {
		m.deliverRaw(ctx, userID, raw)
	}
	return conn, len(queued), nil
}

func (m *Manager) backfillUnread(ctx context.Context, userID string) {
	l := log.Ctx(ctx)

	receiverID, err := uuid.Parse(userID)
	if err != nil {
		l.Warn().Err(err).Msg("cannot backfill unread messages")
		return
	}
	unread, err := m.gateway.ListUnread(ctx, receiverID, m.cfg.UnreadBackfill)
	if err != nil {
		l.Error().Err(err).Msg("failed to list unread messages")
		return
	}
	for _, msg := range unread {
		p := domain.NewPayload(domain.PayloadNew, msg)
		if err := m.Deliver(ctx, userID, p); err != nil {
			l.Error().Err(err).Msg("failed to deliver unread message")
		}
	}
}

// Remove closes and unregisters the user's connection.
func (m *Manager) Remove(ctx context.Context, userID string, code int, reason string) error {
	ctx, release := m.section.Enter(ctx)
	defer release()

	c, ok := m.conns[userID]
	if !ok {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldUserID, userID).Msg("remove: user not connected")
		return ErrNotConnected
	}
	m.removeLocked(ctx, userID, c, code, reason)
	return nil
}

// handleClaim closes the local connection of a user who connected to another
// process.
func (m *Manager) handleClaim(ctx context.Context, userID string) {
	if err := m.Remove(ctx, userID, domain.CloseNormal, domain.ReasonReplaced); err == nil {
		l := log.Ctx(ctx)
		l.Info().Str(log.FieldUserID, userID).Msg("session claimed by another process")
	}
}

// RemoveConn is Remove for a specific connection. It reports false, after
// making sure conn is closed, when conn is no longer the registered one.
func (m *Manager) RemoveConn(ctx context.Context, userID string, conn Conn, code int, reason string) bool {
	ctx, release := m.section.Enter(ctx)
	defer release()

	c, ok := m.conns[userID]
	if !ok || c.conn != conn {
		conn.Close(code, reason)
		return false
	}
	m.removeLocked(ctx, userID, c, code, reason)
	return true
}

// removeLocked unregisters c. Close failures are logged and never returned.
// The caller holds the section.
func (m *Manager) removeLocked(ctx context.Context, userID string, c *connection, code int, reason string) {
	l := log.Ctx(ctx).With().
		Str(log.FieldUserID, userID).
		Int(log.FieldCloseCode, code).
		Str(log.FieldReason, reason).
		Logger()

	if m.conns[userID] == c {
		delete(m.conns, userID)
		if err := m.broker.Unsubscribe(ctx, userID); err != nil {
			l.Warn().Err(err).Msg("failed to unsubscribe user channel")
		}
	}

	err := c.conn.Close(code, reason)
	var netErr net.Error
	switch {
	case err == nil:
		l.Info().Dur("duration", m.now().Sub(c.connectedAt)).Msg("user disconnected")
	case errors.Is(err, net.ErrClosed):
		l.Info().Msg("remove: connection already closed")
	case errors.As(err, &netErr):
		l.Warn().Err(err).Msg("remove: network error while closing")
	default:
		l.Error().Err(err).Msg("remove: close attempt failed")
	}
}

// Touch records that a frame was just received from userID.
func (m *Manager) Touch(ctx context.Context, userID string) {
	_, release := m.section.Enter(ctx)
	defer release()

	if c, ok := m.conns[userID]; ok {
		c.lastReceived = m.now()
	}
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	_, release := m.section.Enter(context.Background())
	defer release()
	return len(m.conns)
}

// IsLocal reports whether userID is connected to this process.
func (m *Manager) IsLocal(ctx context.Context, userID string) bool {
	_, release := m.section.Enter(ctx)
	defer release()
	_, ok := m.conns[userID]
	return ok
}
