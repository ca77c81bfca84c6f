package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
	PaymentStatusRefunded  = "refunded"
)

// Payment is one payment-gateway transaction. Status transitions are driven by
// asynchronous gateway notifications and must be idempotent: a notification
// repeating the stored status is a no-op, and the subscription extension fires
// exactly once, inside the same transaction as the status change.
type Payment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ExternalID      string    `gorm:"uniqueIndex;type:varchar(100);not null" json:"external_id"`
	UserID          uint      `gorm:"index;not null" json:"user_id"`
	Status          string    `gorm:"type:varchar(30);not null;default:'pending'" json:"status"`
	Amount          int       `gorm:"not null" json:"amount"`
	Days            int       `gorm:"not null" json:"days"`
	PaymentMethodID string    `gorm:"type:varchar(100);default:null" json:"-"`
	Recurring       bool      `gorm:"default:false" json:"recurring"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further transitions are expected.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCanceled || p.Status == PaymentStatusRefunded
}
