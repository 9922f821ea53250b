package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/internal/domain"
)

// MessageModel is the GORM model for messages table.
type MessageModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	SenderID   string    `gorm:"type:varchar(36);not null;index:idx_messages_sender_receiver,priority:1"`
	ReceiverID string    `gorm:"type:varchar(36);not null;index:idx_messages_sender_receiver,priority:2;index:idx_messages_receiver_unread,priority:1"`
	Text       string    `gorm:"type:varchar(2000);not null"`
	IsRead     bool      `gorm:"not null;default:false;index:idx_messages_receiver_unread,priority:2"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *domain.Message {
	return &domain.Message{
		ID:         m.ID,
		SenderID:   uuid.MustParse(m.SenderID),
		ReceiverID: uuid.MustParse(m.ReceiverID),
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead,
	}
}

// ToRead converts MessageModel to the notification shape sent to clients.
func (m *MessageModel) ToRead(senderName, receiverName *string) *domain.MessageRead {
	return &domain.MessageRead{
		SenderID:     uuid.MustParse(m.SenderID),
		SenderName:   senderName,
		ReceiverID:   uuid.MustParse(m.ReceiverID),
		ReceiverName: receiverName,
		Text:         m.Text,
		CreatedAt:    m.CreatedAt,
		Time:         domain.ClockTime(m.CreatedAt),
	}
}

// ContactModel is the GORM model for contacts table. Each direction of a
// contact is its own row.
type ContactModel struct {
	MyUserID    string `gorm:"type:varchar(36);primaryKey"`
	OtherUserID string `gorm:"type:varchar(36);primaryKey"`
	Status      string `gorm:"type:varchar(32);not null"`
}

func (ContactModel) TableName() string {
	return "contacts"
}

// ProfileModel is the part of profiles table the chat reads.
type ProfileModel struct {
	ID     uint64  `gorm:"primaryKey;autoIncrement"`
	UserID string  `gorm:"type:varchar(36);uniqueIndex;not null"`
	Name   *string `gorm:"type:varchar(100)"`
}

func (ProfileModel) TableName() string {
	return "profiles"
}

// Models lists every table the gateway touches, for migrations.
func Models() []interface{} {
	return []interface{}{&MessageModel{}, &ContactModel{}, &ProfileModel{}}
}
