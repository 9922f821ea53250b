package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageMaxLength is the maximum number of characters in a chat message.
const MessageMaxLength = 2000

// Content is the related_content of a chat payload. Each concrete type is
// bound to one or more payload types.
type Content interface {
	fields() []field
	validate() []FieldIssue
}

// field binds a wire key to the struct member it decodes into.
type field struct {
	key      string
	dst      any
	required bool
}

// MessageCreate is sent by a client to post a new message.
type MessageCreate struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Text       string    `json:"text"`
	ClientID   uuid.UUID `json:"client_id"`
}

func (c *MessageCreate) fields() []field {
	return []field{
		{"receiver_id", &c.ReceiverID, true},
		{"text", &c.Text, true},
		{"client_id", &c.ClientID, true},
	}
}

func (c *MessageCreate) validate() []FieldIssue {
	var issues []FieldIssue
	if c.ReceiverID == uuid.Nil {
		issues = append(issues, FieldIssue{"receiver_id", "must be a non-nil UUID"})
	}
	if c.ClientID == uuid.Nil {
		issues = append(issues, FieldIssue{"client_id", "must be a non-nil UUID"})
	}
	issues = append(issues, validateText(c.Text)...)
	return issues
}

// MessageRead notifies a receiver of a stored message.
type MessageRead struct {
	SenderID     uuid.UUID `json:"sender_id"`
	SenderName   *string   `json:"sender_name"`
	ReceiverID   uuid.UUID `json:"receiver_id"`
	ReceiverName *string   `json:"receiver_name"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	Time         string    `json:"time"`
}

func (c *MessageRead) fields() []field {
	return []field{
		{"sender_id", &c.SenderID, true},
		{"sender_name", &c.SenderName, false},
		{"receiver_id", &c.ReceiverID, true},
		{"receiver_name", &c.ReceiverName, false},
		{"text", &c.Text, true},
		{"created_at", &c.CreatedAt, true},
		{"time", &c.Time, true},
	}
}

func (c *MessageRead) validate() []FieldIssue {
	var issues []FieldIssue
	if c.SenderID == uuid.Nil {
		issues = append(issues, FieldIssue{"sender_id", "must be a non-nil UUID"})
	}
	if c.ReceiverID == uuid.Nil {
		issues = append(issues, FieldIssue{"receiver_id", "must be a non-nil UUID"})
	}
	if c.CreatedAt.IsZero() {
		issues = append(issues, FieldIssue{"created_at", "must be set"})
	}
	if !validClock(c.Time) {
		issues = append(issues, FieldIssue{"time", "must be HH:MM:SS"})
	}
	if utf8.RuneCountInString(c.Text) > MessageMaxLength {
		issues = append(issues, FieldIssue{"text", "exceeds maximum length"})
	}
	return issues
}

// MessageSent confirms to the sender that a message was stored.
type MessageSent struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	ClientID   uuid.UUID `json:"client_id"`
	CreatedAt  time.Time `json:"created_at"`
	Time       string    `json:"time"`
}

func (c *MessageSent) fields() []field {
	return []field{
		{"receiver_id", &c.ReceiverID, true},
		{"client_id", &c.ClientID, true},
		{"created_at", &c.CreatedAt, true},
		{"time", &c.Time, true},
	}
}

func (c *MessageSent) validate() []FieldIssue {
	var issues []FieldIssue
	if c.ReceiverID == uuid.Nil {
		issues = append(issues, FieldIssue{"receiver_id", "must be a non-nil UUID"})
	}
	if c.ClientID == uuid.Nil {
		issues = append(issues, FieldIssue{"client_id", "must be a non-nil UUID"})
	}
	if c.CreatedAt.IsZero() {
		issues = append(issues, FieldIssue{"created_at", "must be set"})
	}
	if !validClock(c.Time) {
		issues = append(issues, FieldIssue{"time", "must be HH:MM:SS"})
	}
	return issues
}

// TargetUser names the other party of a read receipt.
type TargetUser struct {
	ID uuid.UUID `json:"id"`
}

func (c *TargetUser) fields() []field {
	return []field{{"id", &c.ID, true}}
}

func (c *TargetUser) validate() []FieldIssue {
	if c.ID == uuid.Nil {
		return []FieldIssue{{"id", "must be a non-nil UUID"}}
	}
	return nil
}

// MessageError reports a failure back to a client.
type MessageError struct {
	Error string `json:"error"`
}

func (c *MessageError) fields() []field {
	return []field{{"error", &c.Error, true}}
}

func (c *MessageError) validate() []FieldIssue { return nil }

// PingPong carries the timestamp of the ping being answered, if any.
type PingPong struct {
	PingTimestamp *string `json:"ping_timestamp"`
}

func (c *PingPong) fields() []field {
	return []field{{"ping_timestamp", &c.PingTimestamp, true}}
}

func (c *PingPong) validate() []FieldIssue {
	if c.PingTimestamp != nil {
		if _, err := ParseTimestamp(*c.PingTimestamp); err != nil {
			return []FieldIssue{{"ping_timestamp", "must be an ISO-8601 timestamp"}}
		}
	}
	return nil
}

func validateText(text string) []FieldIssue {
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		return []FieldIssue{{"text", "must not be empty"}}
	case n > MessageMaxLength:
		return []FieldIssue{{"text", "exceeds maximum length"}}
	}
	return nil
}
