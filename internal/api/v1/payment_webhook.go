package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Orik-dev/kcalbot/internal/pkg/payment"
)

// PaymentWebhookHandler receives asynchronous status notifications from the
// payment gateway. Processing is idempotent downstream, so the gateway may
// retry deliveries freely.
type PaymentWebhookHandler struct {
	payments *payment.Service
}

func NewPaymentWebhookHandler(payments *payment.Service) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{payments: payments}
}

// notification is the gateway's webhook payload shape.
type notification struct {
	Event  string `json:"event"`
	Object struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PaymentMethod struct {
			ID    string `json:"id"`
			Saved bool   `json:"saved"`
		} `json:"payment_method"`
	} `json:"object"`
}

// Handle processes POST /api/v1/payments/webhook.
func (h *PaymentWebhookHandler) Handle(c *fiber.Ctx) error {
	var n notification
	if err := c.BodyParser(&n); err != nil {
		log.Warnf("[Webhook] Unparseable notification: %v", err)
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if n.Object.ID == "" || n.Object.Status == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	methodID := ""
	if n.Object.PaymentMethod.Saved {
		methodID = n.Object.PaymentMethod.ID
	}

	applied, err := h.payments.ProcessNotification(c.Context(), payment.Notification{
		ExternalID: n.Object.ID,
		Status:     n.Object.Status,
		MethodID:   methodID,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to process %s: %v", n.Object.ID, err)
		// Non-2xx makes the gateway redeliver later; safe because
		// processing is idempotent.
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	if applied {
		log.Infof("[Webhook] Applied %s -> %s", n.Object.ID, n.Object.Status)
	}
	return c.SendStatus(fiber.StatusOK)
}
