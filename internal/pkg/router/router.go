package router

import (
	"github.com/gofiber/fiber/v2"

	v1 "github.com/Orik-dev/kcalbot/internal/api/v1"
	"github.com/Orik-dev/kcalbot/internal/pkg/payment"
)

// InstallRouter wires the HTTP surface: the payment webhook and a liveness
// probe. Everything user-facing happens over Telegram, not HTTP.
func InstallRouter(app *fiber.App, payments *payment.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	webhook := v1.NewPaymentWebhookHandler(payments)
	api := app.Group("/api/v1")
	api.Post("/payments/webhook", webhook.Handle)
}
