package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/intent"
	"github.com/Orik-dev/kcalbot/internal/pkg/mealflow"
)

const (
	subscriptionPrice = 299
	subscriptionDays  = 30
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return b.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	user, err := b.users.GetOrCreateByTelegramID(ctx, msg.From.ID, msg.Chat.ID, msg.From.UserName)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	switch {
	case msg.IsCommand():
		return b.handleCommand(ctx, user, msg)
	case msg.Voice != nil:
		return b.handleVoice(ctx, user, msg)
	case len(msg.Photo) > 0:
		return b.handlePhoto(ctx, user, msg)
	case msg.Text != "":
		return b.handleText(ctx, user, msg.Text)
	default:
		b.send(user.ChatID, "Send me a food description, a voice message or a photo and I'll estimate the nutrition.")
		return nil
	}
}

func (b *Bot) handleCommand(ctx context.Context, user *models.User, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		b.send(user.ChatID, startMessage(user))
	case "help":
		b.send(user.ChatID, helpMessage())
	case "today":
		total, meals, err := b.meals.TodaySummary(ctx, user.ID, user.Location())
		if err != nil {
			return err
		}
		if len(meals) == 0 {
			b.send(user.ChatID, "Nothing recorded today yet.")
			return nil
		}
		b.sendWithKeyboard(user.ChatID, formatDay(total, meals), mealListKeyboard(meals))
	case "week":
		days, err := b.meals.WeekSummary(ctx, user.ID, user.Location())
		if err != nil {
			return err
		}
		b.send(user.ChatID, formatWeek(days))
	case "subscribe":
		url, err := b.payments.InitiatePayment(ctx, user, subscriptionPrice, subscriptionDays, true)
		if err != nil {
			b.send(user.ChatID, "Could not create the payment, please try again later.")
			return err
		}
		b.send(user.ChatID, fmt.Sprintf(
			"Subscription: %d requests/day for %d days — %d RUB.\nPay here: %s",
			models.SubscriberDailyQuota, subscriptionDays, subscriptionPrice, url))
	case "autopay_off":
		if err := b.payments.DisableAutopay(ctx, user.ID); err != nil {
			return err
		}
		b.send(user.ChatID, "Autopay disabled. Your current subscription stays active until it expires.")
	case "timezone":
		tz := strings.TrimSpace(msg.CommandArguments())
		if tz == "" {
			b.send(user.ChatID, "Usage: /timezone Europe/Moscow\nNew meals will be dated in that timezone; old ones keep their dates.")
			return nil
		}
		if err := b.users.SetTimezone(ctx, user.ID, tz); err != nil {
			b.send(user.ChatID, "I don't know that timezone. Try something like Europe/Moscow or Asia/Almaty.")
			return nil
		}
		b.send(user.ChatID, "Timezone set to "+tz+".")
	default:
		b.send(user.ChatID, "Unknown command. See /help.")
	}
	return nil
}

func (b *Bot) handleText(ctx context.Context, user *models.User, text string) error {
	switch intent.Classify(text) {
	case intent.Delete:
		return b.deleteLastMeal(ctx, user)
	case intent.Edit:
		// Edits go through the per-meal buttons; point the user there.
		b.send(user.ChatID, "To change something, open /today, remove the wrong entry and send the corrected one.")
		return nil
	case intent.CalculateOnly:
		return b.estimate(ctx, user, text, false)
	default:
		return b.estimate(ctx, user, text, true)
	}
}

func (b *Bot) estimate(ctx context.Context, user *models.User, text string, save bool) error {
	res, err := b.flow.EstimateText(ctx, user, text, save)
	if err != nil {
		return err
	}
	b.renderEstimate(user, res)
	return nil
}

func (b *Bot) handleVoice(ctx context.Context, user *models.User, msg *tgbotapi.Message) error {
	audio, err := b.download(msg.Voice.FileID)
	if err != nil {
		b.send(user.ChatID, "Could not fetch the voice message, please try again.")
		return err
	}
	defer func() {
		_ = audio.Close()
	}()

	res, err := b.flow.EstimateVoice(ctx, user, audio, "voice.ogg")
	if err != nil {
		return err
	}
	b.renderEstimate(user, res)
	return nil
}

func (b *Bot) handlePhoto(ctx context.Context, user *models.User, msg *tgbotapi.Message) error {
	// Telegram sends several sizes; the last is the largest.
	photo := msg.Photo[len(msg.Photo)-1]

	url, err := b.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		b.send(user.ChatID, "Could not fetch the photo, please try again.")
		return err
	}

	body, err := b.download(photo.FileID)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	res, err := b.flow.EstimatePhoto(ctx, user, url, body, msg.Caption)
	if err != nil {
		return err
	}
	b.renderEstimate(user, res)
	return nil
}

func (b *Bot) renderEstimate(user *models.User, res *mealflow.Result) {
	switch res.Outcome {
	case mealflow.OutcomeStaged:
		b.sendWithKeyboard(user.ChatID, formatProposal(res.Proposal), confirmKeyboard(res.Key))
	case mealflow.OutcomeEstimated:
		b.send(user.ChatID, formatProposal(res.Proposal)+"\n\nNot saved — this was an estimate only.")
	case mealflow.OutcomeQuotaExhausted:
		b.send(user.ChatID, fmt.Sprintf(
			"You've used all your requests for today. Subscribers get %d per day — see /subscribe.",
			models.SubscriberDailyQuota))
	case mealflow.OutcomeNoSpeech:
		b.send(user.ChatID, "I couldn't hear anything in that voice message. Your request was not charged.")
	default:
		// Model and parse failures: token was refunded, the user may retry.
		b.send(user.ChatID, "Sorry, that didn't work: "+res.Reason+"\nYour request was not charged — please try again.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	// Always answer so the client stops the spinner, even on races.
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Warnf("[Bot] Callback ack failed: %v", err)
		}
	}()

	user, err := b.users.GetOrCreateByTelegramID(ctx, cb.From.ID, callbackChatID(cb), cb.From.UserName)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	action, arg, _ := strings.Cut(cb.Data, ":")
	switch action {
	case "confirm":
		return b.confirmProposal(ctx, user, arg)
	case "cancel":
		status, err := b.flow.Cancel(ctx, user, arg)
		if err != nil {
			return err
		}
		if status == mealflow.CancelRefunded {
			b.send(user.ChatID, "Cancelled. Your request was refunded.")
		} else {
			b.send(user.ChatID, "This entry was already processed.")
		}
	case "delmeal":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil
		}
		return b.deleteMealByID(ctx, user, uint(id))
	}
	return nil
}

func (b *Bot) confirmProposal(ctx context.Context, user *models.User, key string) error {
	res, err := b.flow.Confirm(ctx, user, key)
	if err != nil {
		b.send(user.ChatID, "Something went wrong while saving — nothing was recorded. Please try again.")
		return err
	}

	switch res.Status {
	case mealflow.ConfirmCommitted:
		b.send(user.ChatID, "Saved!\n\n"+formatTotal("Today so far", res.Total))
	case mealflow.ConfirmBusy:
		b.send(user.ChatID, "Still saving, one moment...")
	default:
		b.send(user.ChatID, "This entry was already processed.")
	}
	return nil
}

func (b *Bot) deleteLastMeal(ctx context.Context, user *models.User) error {
	_, meals, err := b.meals.TodaySummary(ctx, user.ID, user.Location())
	if err != nil {
		return err
	}
	if len(meals) == 0 {
		b.send(user.ChatID, "Nothing recorded today to delete.")
		return nil
	}
	return b.deleteMealByID(ctx, user, meals[len(meals)-1].ID)
}

func (b *Bot) deleteMealByID(ctx context.Context, user *models.User, mealID uint) error {
	deleted, err := b.meals.DeleteMeal(ctx, mealID, user.ID)
	if err != nil {
		return err
	}
	if !deleted {
		b.send(user.ChatID, "That entry is already gone.")
		return nil
	}

	total, meals, err := b.meals.TodaySummary(ctx, user.ID, user.Location())
	if err != nil {
		return err
	}
	if len(meals) == 0 {
		b.send(user.ChatID, "Deleted. Nothing left for today.")
		return nil
	}
	b.sendWithKeyboard(user.ChatID, "Deleted.\n\n"+formatDay(total, meals), mealListKeyboard(meals))
	return nil
}

// callbackChatID resolves the chat to answer in. Telegram omits Message on
// callbacks against messages older than 48 hours; for those, fall back to the
// sender's private chat (its ID equals the user ID).
func callbackChatID(cb *tgbotapi.CallbackQuery) int64 {
	if cb.Message != nil && cb.Message.Chat != nil {
		return cb.Message.Chat.ID
	}
	return cb.From.ID
}

// download fetches a Telegram-hosted file.
func (b *Bot) download(fileID string) (io.ReadCloser, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	return resp.Body, nil
}
