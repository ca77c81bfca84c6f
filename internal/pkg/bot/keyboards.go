package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Orik-dev/kcalbot/app/models"
)

// confirmKeyboard renders the confirm/cancel pair for a staged proposal. The
// staging key rides in the callback data.
func confirmKeyboard(key string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Save", "confirm:"+key),
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel:"+key),
		),
	)
}

// mealListKeyboard offers one delete button per recorded meal.
func mealListKeyboard(meals []models.Meal) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(meals))
	for _, m := range meals {
		label := fmt.Sprintf("🗑 %s", m.Name)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("delmeal:%d", m.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
