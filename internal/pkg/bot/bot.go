package bot

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Orik-dev/kcalbot/app/repository"
	"github.com/Orik-dev/kcalbot/internal/pkg/env"
	"github.com/Orik-dev/kcalbot/internal/pkg/mealflow"
	"github.com/Orik-dev/kcalbot/internal/pkg/payment"
)

// Bot is the Telegram transport: it maps inbound updates onto workflow calls
// and renders their results. All nutrition and billing semantics live below.
type Bot struct {
	api      *tgbotapi.BotAPI
	users    repository.UserRepository
	meals    repository.MealRepository
	flow     *mealflow.Service
	payments *payment.Service
}

// New authorizes the bot against the Telegram API.
func New(users repository.UserRepository, meals repository.MealRepository, flow *mealflow.Service, payments *payment.Service) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(env.GetEnv("TELEGRAM_BOT_TOKEN", ""))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	log.Infof("[Bot] Authorized as @%s", api.Self.UserName)
	return &Bot{
		api:      api,
		users:    users,
		meals:    meals,
		flow:     flow,
		payments: payments,
	}, nil
}

// Start runs the long-poll loop until the context is cancelled. Each update
// is handled in its own goroutine; per-user consistency comes from the
// storage layer, not from ordering here.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			log.Info("[Bot] Shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			go func(update tgbotapi.Update) {
				if err := b.handleUpdate(ctx, update); err != nil {
					log.Errorf("[Bot] Update handling failed: %v", err)
				}
			}(update)
		}
	}
}

// Notify implements payment.Notifier.
func (b *Bot) Notify(chatID int64, text string) {
	b.send(chatID, text)
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		log.Errorf("[Bot] Send to chat %d failed: %v", chatID, err)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		log.Errorf("[Bot] Send to chat %d failed: %v", chatID, err)
	}
}
