package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/internal/audit"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/internal/gateway"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// Dispatch handles one validated payload from userID. A returned error is
// fatal to the session; recoverable problems are reported to the sender as
// error payloads.
func (m *Manager) Dispatch(ctx context.Context, userID string, p *domain.Payload) error {
	l := log.Ctx(ctx)

	switch c := p.Content.(type) {
	case *domain.MessageCreate:
		return m.processChatMessage(ctx, userID, c)

	case *domain.PingPong:
		if p.Type == domain.PayloadPong {
			l.Info().Msg("pong received")
			return nil
		}
		ts := p.Timestamp
		return m.Deliver(ctx, userID, domain.NewPayload(domain.PayloadPong, &domain.PingPong{PingTimestamp: &ts}))

	default:
		l.Warn().Str(log.FieldPayloadType, string(p.Type)).Msg("unexpected chat payload type")
		return m.Deliver(ctx, userID, domain.NewErrorPayload(domain.ReasonUnexpectedPayload))
	}
}

// processChatMessage stores a message and notifies both parties. The sender
// is always the session's user.
func (m *Manager) processChatMessage(ctx context.Context, userID string, c *domain.MessageCreate) error {
	received := domain.NowTimestamp()

	senderID, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid session user id: %w", err)
	}

	msg, err := m.storeMessage(ctx, senderID, c)
	if err != nil {
		gwErr, ok := gateway.AsError(err)
		if !ok {
			return fmt.Errorf("process chat message: %w", err)
		}
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("kind", gwErr.Kind.String()).Msg("chat message rejected")
		return m.Deliver(ctx, userID, &domain.Payload{
			Type:      domain.PayloadError,
			Content:   &domain.MessageError{Error: gwErr.Message},
			Timestamp: received,
		})
	}
	audit.LogMessage(ctx, userID, msg.ReceiverID.String())

	err = m.Deliver(ctx, msg.ReceiverID.String(), &domain.Payload{
		Type:      domain.PayloadNew,
		Content:   msg,
		Timestamp: received,
	})
	if err != nil {
		return err
	}

	return m.Deliver(ctx, userID, &domain.Payload{
		Type: domain.PayloadSent,
		Content: &domain.MessageSent{
			ReceiverID: msg.ReceiverID,
			ClientID:   c.ClientID,
			CreatedAt:  msg.CreatedAt,
			Time:       msg.Time,
		},
		Timestamp: received,
	})
}

func (m *Manager) storeMessage(ctx context.Context, senderID uuid.UUID, c *domain.MessageCreate) (*domain.MessageRead, error) {
	if _, err := m.gateway.CreateMessage(ctx, senderID, c.ReceiverID, c.Text); err != nil {
		return nil, err
	}
	msg, err := m.gateway.ReadLastMessage(ctx, senderID, c.ReceiverID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, gateway.ServerError(
			"Message not found after creation. sender_id=%s, receiver_id=%s.", senderID, c.ReceiverID)
	}
	return msg, nil
}
