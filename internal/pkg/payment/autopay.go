package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/Orik-dev/kcalbot/app/models"
)

const (
	autopayBackoffBase = 2 * time.Second
	autopayBackoffCap  = 30 * time.Second
)

// AutopayEngine retries recurring charges for expired subscribers with a
// saved payment method, with bounded attempts and exponential backoff.
type AutopayEngine struct {
	db       *gorm.DB
	service  *Service
	gateway  Gateway
	notifier Notifier
}

func NewAutopayEngine(db *gorm.DB, service *Service, gateway Gateway, notifier Notifier) *AutopayEngine {
	return &AutopayEngine{db: db, service: service, gateway: gateway, notifier: notifier}
}

// TryAutopay attempts one renewal charge for the user. Preconditions: a saved
// method, an *expired* subscription (never-subscribed users are not charged)
// and a failure counter below the maximum.
func (e *AutopayEngine) TryAutopay(ctx context.Context, user *models.User) error {
	now := time.Now()
	switch {
	case user.PaymentMethodID == "":
		return fmt.Errorf("user %d has no saved payment method", user.ID)
	case user.SubscribedUntil == nil:
		return fmt.Errorf("user %d never subscribed", user.ID)
	case user.SubscribedUntil.After(now):
		return fmt.Errorf("user %d subscription still active", user.ID)
	case user.AutopayFailures >= models.MaxAutopayFailures:
		return fmt.Errorf("user %d exhausted autopay attempts", user.ID)
	case user.LastSubDays <= 0 || user.LastSubAmount <= 0:
		return fmt.Errorf("user %d has no renewal terms", user.ID)
	}

	desc := fmt.Sprintf("Subscription renewal for %d days", user.LastSubDays)
	charge, err := e.gateway.ChargeSaved(ctx, user.PaymentMethodID, user.LastSubAmount, desc)
	if err != nil {
		return e.handleFailure(ctx, user, err)
	}

	// Success path: record the payment; the extension itself runs through
	// the idempotent notification path (either here for synchronously
	// settled charges, or later via webhook).
	if err := e.service.RecordCharge(ctx, user.ID, charge.ExternalID, user.LastSubAmount, user.LastSubDays, charge.Status); err != nil {
		return err
	}

	log.Infof("[Autopay] Charged user %d (%s, status %s)", user.ID, charge.ExternalID, charge.Status)
	return nil
}

func (e *AutopayEngine) handleFailure(ctx context.Context, user *models.User, cause error) error {
	user.AutopayFailures++
	log.Warnf("[Autopay] Charge failed for user %d (attempt %d/%d): %v",
		user.ID, user.AutopayFailures, models.MaxAutopayFailures, cause)

	update := map[string]interface{}{"autopay_failures": user.AutopayFailures}
	disabled := user.AutopayFailures >= models.MaxAutopayFailures
	if disabled {
		// Forget the method so future sweeps skip this user entirely.
		update["payment_method_id"] = ""
	}
	if err := e.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(update).Error; err != nil {
		return fmt.Errorf("record autopay failure for user %d: %w", user.ID, err)
	}

	if disabled && e.notifier != nil {
		e.notifier.Notify(user.ChatID,
			"We couldn't renew your subscription automatically, so autopay has been turned off. Use /subscribe to renew manually.")
	}

	// Capped exponential pause before the sweep moves on; keeps a flaky
	// gateway from being hammered across consecutive candidates.
	time.Sleep(Backoff(user.AutopayFailures))

	return fmt.Errorf("autopay charge for user %d: %w", user.ID, cause)
}

// Backoff returns the capped exponential delay after the given number of
// consecutive failures.
func Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := autopayBackoffBase << (failures - 1)
	if d > autopayBackoffCap || d <= 0 {
		return autopayBackoffCap
	}
	return d
}
