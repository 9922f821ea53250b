package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/internal/domain"
)

// ContactOngoing is the contact status that allows two users to chat.
const ContactOngoing = "ongoing"

// MessageGateway persists chat messages. Methods may return *Error for
// conditions the caller should report back to the user.
type MessageGateway interface {
	// CreateMessage stores a message between two users with an ongoing contact.
	CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, text string) (*domain.Message, error)
	// ReadLastMessage returns the newest message from sender to receiver, or
	// nil when there is none.
	ReadLastMessage(ctx context.Context, senderID, receiverID uuid.UUID) (*domain.MessageRead, error)
	// MarkAsRead flags unread messages to receiver created at or before upTo.
	// A nil senderID matches every sender.
	MarkAsRead(ctx context.Context, senderID *uuid.UUID, receiverID uuid.UUID, upTo time.Time) error
	// ListUnread returns up to limit unread messages to receiver, oldest first.
	ListUnread(ctx context.Context, receiverID uuid.UUID, limit int) ([]*domain.MessageRead, error)
}
