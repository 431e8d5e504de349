package store

import (
	"encoding/json"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return s.db.Create(user).Error
}

// GetUser returns the user or nil when absent.
func (s *Store) GetUser(id string) (*User, error) {
	var user User
	err := s.db.Where("id = ?", id).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByTelegramChat returns the user linked to a Telegram chat, or
// nil.
func (s *Store) GetUserByTelegramChat(chatID int64) (*User, error) {
	var user User
	err := s.db.Where("telegram_chat_id = ?", chatID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetTelegramChat links a Telegram chat to the user.
func (s *Store) SetTelegramChat(userID string, chatID int64) error {
	return s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"telegram_chat_id": chatID,
			"updated_at":       time.Now(),
		}).Error
}

// ClearTelegramChat unlinks the user's Telegram chat.
func (s *Store) ClearTelegramChat(userID string) error {
	return s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"telegram_chat_id": nil,
			"updated_at":       time.Now(),
		}).Error
}

// SetDiscordUser links a Discord user id to the user.
func (s *Store) SetDiscordUser(userID, discordUserID string) error {
	return s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"discord_user_id": discordUserID,
			"updated_at":      time.Now(),
		}).Error
}

// SetPushSubscription stores a user's push subscription and enables web
// notifications.
func (s *Store) SetPushSubscription(userID string, sub *PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return apperrors.Wrap(err, "GEN_002", "invalid push subscription")
	}

	return s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"push_subscription_json":    string(raw),
			"web_notifications_enabled": true,
			"updated_at":                time.Now(),
		}).Error
}

// ClearPushSubscription removes a user's push subscription. Called on
// explicit unsubscribe and by the dispatcher after a gone/expired
// delivery failure.
func (s *Store) ClearPushSubscription(userID string) error {
	return s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"push_subscription_json":    "",
			"web_notifications_enabled": false,
			"updated_at":                time.Now(),
		}).Error
}

// Subscription decodes the user's stored push subscription. It
// returns nil, nil when none is registered and an error when the
// stored JSON is unreadable.
func (u *User) Subscription() (*PushSubscription, error) {
	if u.PushSubscriptionJSON == "" || !u.WebNotificationsEnabled {
		return nil, nil
	}
	var sub PushSubscription
	if err := json.Unmarshal([]byte(u.PushSubscriptionJSON), &sub); err != nil {
		return nil, err
	}
	if sub.Endpoint == "" {
		return nil, nil
	}
	return &sub, nil
}

// HasChannel reports whether the user has at least one notification
// channel enabled.
func (u *User) HasChannel() bool {
	sub, _ := u.Subscription()
	return u.TelegramChatID != nil || u.DiscordUserID != "" || sub != nil
}
