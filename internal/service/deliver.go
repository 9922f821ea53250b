package service

import (
	"context"

	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// Deliver sends p to userID. A local connection gets it directly; otherwise
// it is published to the user's broker channel. When publishing fails the
// payload is queued for the user's next connect, except for pings.
func (m *Manager) Deliver(ctx context.Context, userID string, p *domain.Payload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}

	local, ok := m.sendLocal(ctx, userID, data)
	if local {
		if ok {
			m.acknowledge(ctx, p)
		}
		return nil
	}

	if err := m.broker.Publish(ctx, userID, data); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldTargetID, userID).
			Str(log.FieldPayloadType, string(p.Type)).
			Msg("publish failed, falling back to offline queue")
		m.holdOrSend(ctx, userID, p, data)
	}
	return nil
}

// handleBrokerPayload delivers a payload published by another process to a
// user subscribed here. It is never published again.
func (m *Manager) handleBrokerPayload(ctx context.Context, userID string, raw []byte) {
	m.deliverRaw(ctx, userID, raw)
}

// deliverRaw delivers an already encoded payload to a local user, queueing
// it if the user is not connected.
func (m *Manager) deliverRaw(ctx context.Context, userID string, raw []byte) {
	p, err := domain.DecodePayload(raw)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldTargetID, userID).Msg("dropping invalid payload")
		return
	}
	m.holdOrSend(ctx, userID, p, raw)
}

// holdOrSend sends to a local connection or queues for later. Pings are
// never queued.
func (m *Manager) holdOrSend(ctx context.Context, userID string, p *domain.Payload, data []byte) {
	sctx, release := m.section.Enter(ctx)
	var sent bool
	if _, connected := m.conns[userID]; connected {
		sent = m.sendLocked(sctx, userID, data)
	} else if p.Type != domain.PayloadPing {
		if dropped := m.queue.Enqueue(userID, data); dropped > 0 {
			l := log.Ctx(ctx)
			l.Warn().Str(log.FieldTargetID, userID).Int("dropped", dropped).Msg("offline queue full, dropped oldest")
		}
	}
	release()

	if sent {
		m.acknowledge(ctx, p)
	}
}

// sendLocal reports whether userID is connected here and, if so, whether the
// send succeeded. A failed send removes the connection.
func (m *Manager) sendLocal(ctx context.Context, userID string, data []byte) (local, ok bool) {
	ctx, release := m.section.Enter(ctx)
	defer release()

	if _, connected := m.conns[userID]; !connected {
		return false, false
	}
	return true, m.sendLocked(ctx, userID, data)
}

// sendLocked writes to a registered connection. The caller holds the section.
func (m *Manager) sendLocked(ctx context.Context, userID string, data []byte) bool {
	c := m.conns[userID]
	if err := c.conn.Send(data); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldTargetID, userID).Msg("error sending payload")
		m.Remove(ctx, userID, domain.CloseInternalError, domain.ReasonDeliveryFailed)
		return false
	}
	return true
}

// acknowledge runs after a payload reached its local recipient. A delivered
// new message counts as read by the receiver.
func (m *Manager) acknowledge(ctx context.Context, p *domain.Payload) {
	if p.Type != domain.PayloadNew {
		return
	}
	msg, ok := p.Content.(*domain.MessageRead)
	if !ok {
		return
	}
	if err := m.gateway.MarkAsRead(ctx, &msg.SenderID, msg.ReceiverID, msg.CreatedAt); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldTargetID, msg.ReceiverID.String()).Msg("failed to mark delivered message as read")
	}
}
