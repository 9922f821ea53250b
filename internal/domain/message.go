package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a stored chat message.
type Message struct {
	ID         uint64
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Text       string
	CreatedAt  time.Time
	IsRead     bool
}

// Close codes sent when a connection is torn down.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Close reasons.
const (
	ReasonNormalClosure     = "Normal closure."
	ReasonRateLimited       = "Rate limit exceeded."
	ReasonTokenExpired      = "Access token expired."
	ReasonInactive          = "Inactive connection."
	ReasonReplaced          = "Connected from another session."
	ReasonInternalError     = "Internal error."
	ReasonShutdown          = "Server shutting down."
	ReasonDeliveryFailed    = "Delivery failed."
	ReasonUnexpectedPayload = "Unexpected chat payload type"
	ReasonUnexpectedError   = "Unexpected server error."
)
