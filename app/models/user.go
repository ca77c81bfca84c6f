package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	// Daily request quotas. Subscribers get the higher ceiling at every reset.
	FreeDailyQuota       = 3
	SubscriberDailyQuota = 100

	DefaultTimezone = "Europe/Moscow"

	// Autopay gives up and forgets the saved method after this many failures in a row.
	MaxAutopayFailures = 3
)

// User is one Telegram account known to the bot.
type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TelegramID      int64      `gorm:"uniqueIndex;not null" json:"telegram_id"`
	ChatID          int64      `gorm:"not null" json:"chat_id"`
	Username        string     `gorm:"type:varchar(100);default:null" json:"username" validate:"max=100"`
	Timezone        string     `gorm:"type:varchar(64);default:'Europe/Moscow'" json:"timezone"`
	QuotaRemaining  int        `gorm:"not null;default:3" json:"quota_remaining" validate:"min=0"`
	SubscribedUntil *time.Time `gorm:"type:timestamp;default:null" json:"subscribed_until"`
	Email           string     `gorm:"type:varchar(200);default:null" json:"-" validate:"omitempty,email"`

	// Autopay state: the gateway-issued saved payment method plus the terms of
	// the last purchase, used to repeat it.
	PaymentMethodID string `gorm:"type:varchar(100);default:null" json:"-"`
	LastSubAmount   int    `gorm:"default:0" json:"-"`
	LastSubDays     int    `gorm:"default:0" json:"-"`
	AutopayFailures int    `gorm:"default:0" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsSubscribed reports whether the subscription is active at the given instant.
func (u *User) IsSubscribed(now time.Time) bool {
	return u.SubscribedUntil != nil && u.SubscribedUntil.After(now)
}

// DailyQuota returns the quota ceiling the user is entitled to at reset time.
func (u *User) DailyQuota(now time.Time) int {
	if u.IsSubscribed(now) {
		return SubscriberDailyQuota
	}
	return FreeDailyQuota
}

// Location resolves the user's timezone, falling back to the default when the
// stored name is empty or unknown.
func (u *User) Location() *time.Location {
	name := u.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, _ = time.LoadLocation(DefaultTimezone)
	}
	return loc
}

// ExtendSubscription applies a purchased duration. A still-active subscription
// is stacked on top of its current expiry; an expired or absent one restarts
// from now. Expired subscriptions are never back-dated.
func (u *User) ExtendSubscription(days int, now time.Time) {
	base := now
	if u.SubscribedUntil != nil && !u.SubscribedUntil.Before(now) {
		base = *u.SubscribedUntil
	}
	until := base.AddDate(0, 0, days)
	u.SubscribedUntil = &until
}
