package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/Orik-dev/kcalbot/app/models"
)

// Service is the token ledger: a per-user daily allowance decremented before
// every paid operation and refunded when the operation fails or is cancelled.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Reserve consumes one token. The guarded single-statement decrement is the
// whole concurrency story: there is no read-then-write window, and the value
// can never go negative.
func (s *Service) Reserve(ctx context.Context, userID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND quota_remaining > 0", userID).
		UpdateColumn("quota_remaining", gorm.Expr("quota_remaining - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("reserve token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Refund returns one token after a failed or cancelled paid operation.
func (s *Service) Refund(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("quota_remaining", gorm.Expr("quota_remaining + 1")).Error
	if err != nil {
		return fmt.Errorf("refund token: %w", err)
	}
	return nil
}

// DailyReset restores every account to its entitled ceiling. Runs once per
// day under the sweeper's distributed lock.
func (s *Service) DailyReset(ctx context.Context, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("subscribed_until IS NOT NULL AND subscribed_until > ?", now).
		UpdateColumn("quota_remaining", models.SubscriberDailyQuota)
	if res.Error != nil {
		return fmt.Errorf("reset subscriber quotas: %w", res.Error)
	}
	subscribers := res.RowsAffected

	res = s.db.WithContext(ctx).Model(&models.User{}).
		Where("subscribed_until IS NULL OR subscribed_until <= ?", now).
		UpdateColumn("quota_remaining", models.FreeDailyQuota)
	if res.Error != nil {
		return fmt.Errorf("reset free quotas: %w", res.Error)
	}

	log.Infof("[Quota] Daily reset done: %d subscriber, %d free accounts", subscribers, res.RowsAffected)
	return nil
}
