package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Orik-dev/kcalbot/app/models"
)

// Service owns the payment lifecycle: checkout creation and idempotent
// processing of asynchronous gateway notifications. The subscription
// extension side effect fires exactly once per status transition, inside the
// same transaction that updates the payment row.
type Service struct {
	db      *gorm.DB
	gateway Gateway
}

func NewService(db *gorm.DB, gateway Gateway) *Service {
	return &Service{db: db, gateway: gateway}
}

// InitiatePayment creates a gateway checkout and the local pending Payment
// row, returning the URL to send the user to.
func (s *Service) InitiatePayment(ctx context.Context, user *models.User, amount, days int, saveMethod bool) (string, error) {
	checkout, err := s.gateway.CreatePayment(ctx, CreatePaymentInput{
		Amount:      amount,
		Description: fmt.Sprintf("Subscription for %d days", days),
		Days:        days,
		Email:       user.Email,
		SaveMethod:  saveMethod,
	})
	if err != nil {
		return "", fmt.Errorf("create checkout: %w", err)
	}

	record := models.Payment{
		ExternalID: checkout.ExternalID,
		UserID:     user.ID,
		Status:     models.PaymentStatusPending,
		Amount:     amount,
		Days:       days,
		Recurring:  saveMethod,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("record payment %s: %w", checkout.ExternalID, err)
	}

	log.Infof("[Payment] Created payment %s for user %d (%d days)", checkout.ExternalID, user.ID, days)
	return checkout.ConfirmationURL, nil
}

// RecordCharge persists a payment row for a server-initiated autopay charge,
// so its asynchronous notification is processed like any other.
func (s *Service) RecordCharge(ctx context.Context, userID uint, externalID string, amount, days int, status string) error {
	record := models.Payment{
		ExternalID: externalID,
		UserID:     userID,
		Status:     models.PaymentStatusPending,
		Amount:     amount,
		Days:       days,
		Recurring:  true,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("record charge %s: %w", externalID, err)
	}

	// Some charges come back already settled; apply them through the same
	// idempotent path webhooks take.
	if status == models.PaymentStatusSucceeded {
		_, err := s.ProcessNotification(ctx, Notification{ExternalID: externalID, Status: status})
		return err
	}
	return nil
}

// ProcessNotification applies one gateway status update. Replays are no-ops:
// a notification reporting the status the row already has changes nothing,
// and the subscription is extended exactly once per transition to succeeded.
// Returns whether this call applied a transition.
func (s *Service) ProcessNotification(ctx context.Context, n Notification) (bool, error) {
	if n.ExternalID == "" || n.Status == "" {
		return false, fmt.Errorf("notification missing payment id or status")
	}

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_id = ?", n.ExternalID).
			First(&p).Error
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("unknown payment %s", n.ExternalID)
		}
		if err != nil {
			return fmt.Errorf("lock payment %s: %w", n.ExternalID, err)
		}

		if p.Status == n.Status {
			return nil // replay
		}
		// Late or out-of-order delivery: a terminal row never moves again,
		// and a stale "pending" must not rewind a settled payment.
		if p.IsTerminal() || (p.Status == models.PaymentStatusSucceeded && n.Status == models.PaymentStatusPending) {
			log.Warnf("[Payment] Ignoring stale notification %s -> %s for payment %s", p.Status, n.Status, n.ExternalID)
			return nil
		}

		previous := p.Status
		p.Status = n.Status
		if n.MethodID != "" {
			p.PaymentMethodID = n.MethodID
		}
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("update payment %s: %w", n.ExternalID, err)
		}

		if n.Status == models.PaymentStatusSucceeded && previous != models.PaymentStatusSucceeded {
			if err := applySuccess(tx, &p); err != nil {
				return err
			}
		}

		applied = true
		log.Infof("[Payment] Payment %s: %s -> %s", n.ExternalID, previous, n.Status)
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// applySuccess extends the subscription and refreshes autopay state. Runs
// inside the notification transaction; a missing user row here is a genuine
// integrity failure and rolls the whole notification back.
func applySuccess(tx *gorm.DB, p *models.Payment) error {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, p.UserID).Error
	if err != nil {
		log.Errorf("[Payment] CRITICAL: payment %s references missing user %d", p.ExternalID, p.UserID)
		return fmt.Errorf("load user %d for payment %s: %w", p.UserID, p.ExternalID, err)
	}

	now := time.Now()
	user.ExtendSubscription(p.Days, now)
	user.QuotaRemaining = models.SubscriberDailyQuota
	user.LastSubAmount = p.Amount
	user.LastSubDays = p.Days
	user.AutopayFailures = 0
	if p.Recurring && p.PaymentMethodID != "" {
		user.PaymentMethodID = p.PaymentMethodID
	}

	if err := tx.Save(&user).Error; err != nil {
		return fmt.Errorf("extend subscription for user %d: %w", user.ID, err)
	}

	log.Infof("[Payment] User %d subscribed until %s", user.ID, user.SubscribedUntil.Format("2006-01-02"))
	return nil
}

// DisableAutopay clears the saved payment method on explicit user opt-out.
func (s *Service) DisableAutopay(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"payment_method_id": "",
			"autopay_failures":  0,
		}).Error
}
