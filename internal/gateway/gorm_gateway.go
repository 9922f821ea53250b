package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// GormGateway implements MessageGateway using GORM.
type GormGateway struct {
	db       *gorm.DB
	names    NameCache
	namesTTL time.Duration
	sf       singleflight.Group
	now      func() time.Time
}

// NewGormGateway creates a gateway. names may be nil to disable caching.
func NewGormGateway(db *gorm.DB, names NameCache, namesTTL time.Duration) *GormGateway {
	return &GormGateway{
		db:       db,
		names:    names,
		namesTTL: namesTTL,
		now:      time.Now,
	}
}

// CreateMessage stores a message. The two users must have an ongoing contact.
func (g *GormGateway) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, text string) (*domain.Message, error) {
	if senderID == receiverID {
		return nil, BadRequest("Sender and receiver must differ, got %s for both.", senderID)
	}
	if n := utf8.RuneCountInString(text); n == 0 || n > domain.MessageMaxLength {
		return nil, BadRequest("Message text must be 1 to %d characters long.", domain.MessageMaxLength)
	}

	var count int64
	err := g.db.WithContext(ctx).Model(&ContactModel{}).
		Where("my_user_id = ? AND other_user_id = ? AND status = ?", senderID.String(), receiverID.String(), ContactOngoing).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read contact: %w", err)
	}
	if count == 0 {
		return nil, NotFound("Contact not found for my_user_id=%s, other_user_id=%s", senderID, receiverID)
	}

	model := &MessageModel{
		SenderID:   senderID.String(),
		ReceiverID: receiverID.String(),
		Text:       text,
		// stored precision is microseconds on every supported driver
		CreatedAt: g.now().UTC().Truncate(time.Microsecond),
	}
	if err := g.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return model.ToDomain(), nil
}

// ReadLastMessage returns the newest message from sender to receiver.
func (g *GormGateway) ReadLastMessage(ctx context.Context, senderID, receiverID uuid.UUID) (*domain.MessageRead, error) {
	var model MessageModel
	err := g.db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ?", senderID.String(), receiverID.String()).
		Order("created_at DESC").Order("id DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read last message: %w", err)
	}

	senderName, err := g.profileName(ctx, model.SenderID)
	if err != nil {
		return nil, err
	}
	receiverName, err := g.profileName(ctx, model.ReceiverID)
	if err != nil {
		return nil, err
	}
	return model.ToRead(senderName, receiverName), nil
}

// MarkAsRead flags matching unread messages as read.
func (g *GormGateway) MarkAsRead(ctx context.Context, senderID *uuid.UUID, receiverID uuid.UUID, upTo time.Time) error {
	q := g.db.WithContext(ctx).Model(&MessageModel{}).
		Where("receiver_id = ? AND is_read = ? AND created_at <= ?", receiverID.String(), false, upTo.UTC())
	if senderID != nil {
		q = q.Where("sender_id = ?", senderID.String())
	}
	if err := q.Update("is_read", true).Error; err != nil {
		return fmt.Errorf("failed to mark messages as read: %w", err)
	}
	return nil
}

// ListUnread returns unread messages to receiver, oldest first.
func (g *GormGateway) ListUnread(ctx context.Context, receiverID uuid.UUID, limit int) ([]*domain.MessageRead, error) {
	q := g.db.WithContext(ctx).
		Where("receiver_id = ? AND is_read = ?", receiverID.String(), false).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []MessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	result := make([]*domain.MessageRead, 0, len(models))
	for i := range models {
		senderName, err := g.profileName(ctx, models[i].SenderID)
		if err != nil {
			return nil, err
		}
		receiverName, err := g.profileName(ctx, models[i].ReceiverID)
		if err != nil {
			return nil, err
		}
		result = append(result, models[i].ToRead(senderName, receiverName))
	}
	return result, nil
}

// profileName resolves a user's display name through the cache. Concurrent
// lookups of the same user share one query.
func (g *GormGateway) profileName(ctx context.Context, userID string) (*string, error) {
	if g.names != nil {
		cached, err := g.names.Get(ctx, userID)
		if err == nil {
			return cached.Name, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("name cache get error")
		}
	}

	v, err, _ := g.sf.Do(userID, func() (interface{}, error) {
		var profile ProfileModel
		err := g.db.WithContext(ctx).Select("name").Where("user_id = ?", userID).Take(&profile).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to read profile name: %w", err)
		}

		result := &NameCacheResult{Name: profile.Name}
		if g.names != nil {
			if err := g.names.Set(ctx, userID, result, g.namesTTL); err != nil {
				l := log.Ctx(ctx)
				l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("name cache set error")
			}
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	result, ok := v.(*NameCacheResult)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return result.Name, nil
}
