package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Orik-dev/kcalbot/app/models"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetOrCreateByTelegramID resolves a Telegram account, creating it with the
// default free quota on first contact.
func (r *userRepository) GetOrCreateByTelegramID(ctx context.Context, telegramID, chatID int64, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if err == nil {
		// Chat moves (e.g. bot restarted in a new chat) are tracked quietly.
		if user.ChatID != chatID {
			user.ChatID = chatID
			if uerr := r.db.WithContext(ctx).Model(&user).Update("chat_id", chatID).Error; uerr != nil {
				return nil, uerr
			}
		}
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("load user: %w", err)
	}

	user = models.User{
		TelegramID:     telegramID,
		ChatID:         chatID,
		Username:       username,
		Timezone:       models.DefaultTimezone,
		QuotaRemaining: models.FreeDailyQuota,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// GetByID retrieves a user by primary key
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Update persists the given user
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// SetTimezone changes the timezone used for future meal dates. Historical
// meals keep the calendar date they were recorded under.
func (r *userRepository) SetTimezone(ctx context.Context, userID uint, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("timezone", tz).Error
}

// AutopayCandidates lists expired subscribers eligible for a renewal attempt.
// Users who never subscribed (no expiry at all) are never charged.
func (r *userRepository) AutopayCandidates(ctx context.Context, now time.Time) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("subscribed_until IS NOT NULL AND subscribed_until < ?", now).
		Where("payment_method_id IS NOT NULL AND payment_method_id <> ''").
		Where("autopay_failures < ?", models.MaxAutopayFailures).
		Where("last_sub_days > 0").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list autopay candidates: %w", err)
	}
	return users, nil
}
