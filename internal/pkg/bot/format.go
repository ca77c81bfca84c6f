package bot

import (
	"fmt"
	"strings"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/nutrition"
)

func startMessage(user *models.User) string {
	return fmt.Sprintf(
		"Hi! Describe what you ate (text, voice or photo) and I'll estimate calories, protein, fat and carbs.\n\n"+
			"You have %d free requests per day. Commands: /help",
		models.FreeDailyQuota)
}

func helpMessage() string {
	return strings.Join([]string{
		"Send me food — as text (\"200g buckwheat and a chicken breast\"), a voice message or a photo.",
		"I'll propose an estimate; confirm it to add it to your daily log.",
		"",
		"/today — today's log and totals",
		"/week — totals for the last 7 days",
		"/subscribe — more daily requests",
		"/autopay_off — stop automatic renewals",
		"/timezone <zone> — set your timezone",
		"",
		"Say \"how much ...\" to estimate without saving, or \"delete last\" to undo.",
	}, "\n")
}

func formatProposal(p *nutrition.Proposal) string {
	var sb strings.Builder
	sb.WriteString("Here's my estimate:\n")
	for _, item := range p.Items {
		sb.WriteString(fmt.Sprintf("\n• %s (%d g): %.0f kcal, P %.1f / F %.1f / C %.1f",
			item.Name, item.Weight, item.Calories, item.Protein, item.Fat, item.Carbs))
		if item.Confidence < 0.5 {
			sb.WriteString(" (low confidence)")
		}
	}

	if len(p.Items) > 1 {
		cal, prot, fat, carbs := p.Totals()
		sb.WriteString(fmt.Sprintf("\n\nTotal: %.0f kcal, P %.1f / F %.1f / C %.1f", cal, prot, fat, carbs))
	}
	return sb.String()
}

func formatTotal(title string, t *models.DailyTotal) string {
	return fmt.Sprintf("%s: %.0f kcal\nProtein %.1f g · Fat %.1f g · Carbs %.1f g · %d meals",
		title, t.Calories, t.Protein, t.Fat, t.Carbs, t.MealCount)
}

func formatDay(total *models.DailyTotal, meals []models.Meal) string {
	var sb strings.Builder
	for _, m := range meals {
		sb.WriteString(fmt.Sprintf("• %s (%d g) — %.0f kcal\n", m.Name, m.Weight, m.Calories))
	}
	sb.WriteString("\n")
	sb.WriteString(formatTotal("Today", total))
	return sb.String()
}

func formatWeek(days []models.DailyTotal) string {
	var sb strings.Builder
	sb.WriteString("Last 7 days:\n\n")

	var sum float64
	for _, d := range days {
		if d.IsZero() {
			sb.WriteString(fmt.Sprintf("%s — —\n", d.Date))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s — %.0f kcal (%d meals)\n", d.Date, d.Calories, d.MealCount))
		sum += d.Calories
	}
	sb.WriteString(fmt.Sprintf("\nAverage: %.0f kcal/day", sum/float64(len(days))))
	return sb.String()
}
