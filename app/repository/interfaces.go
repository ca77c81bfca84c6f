package repository

import (
	"context"
	"time"

	"github.com/Orik-dev/kcalbot/app/models"
)

// MealPatch is a partial overwrite of one meal's editable fields. Nil fields
// are left untouched.
type MealPatch struct {
	Name     *string
	Weight   *int
	Calories *float64
	Protein  *float64
	Fat      *float64
	Carbs    *float64
}

// MealRepository is the ledger: append-only meal rows plus the derived daily
// totals, kept consistent inside one transaction per mutation.
type MealRepository interface {
	// SaveMeals inserts the batch as one all-or-nothing transaction and
	// returns the fresh daily total for the insertion date.
	SaveMeals(ctx context.Context, userID uint, meals []models.Meal, loc *time.Location) (*models.DailyTotal, error)

	// DeleteMeal removes one owned meal. Returns false when the row does not
	// exist or belongs to someone else.
	DeleteMeal(ctx context.Context, mealID, userID uint) (bool, error)

	// DeleteMeals removes a batch of owned meals, recomputing each affected
	// date once. Returns how many rows were actually deleted.
	DeleteMeals(ctx context.Context, mealIDs []uint, userID uint) (int, error)

	// UpdateMeal applies a partial overwrite under a locking read.
	UpdateMeal(ctx context.Context, mealID, userID uint, patch MealPatch) (bool, error)

	// TodaySummary returns the current date's total plus its meals. A date
	// with no meals presents as all-zero totals, not an error.
	TodaySummary(ctx context.Context, userID uint, loc *time.Location) (*models.DailyTotal, []models.Meal, error)

	// WeekSummary returns the last 7 dates including today, zero-filled.
	WeekSummary(ctx context.Context, userID uint, loc *time.Location) ([]models.DailyTotal, error)

	// History returns the last N dates including today, zero-filled.
	History(ctx context.Context, userID uint, days int, loc *time.Location) ([]models.DailyTotal, error)

	// PurgeOlderThan removes meals (and their total rows) before the cutoff
	// calendar date. Used by the retention sweep.
	PurgeOlderThan(ctx context.Context, cutoffDate string) (int64, error)
}

// UserRepository manages Telegram accounts and their subscription state.
type UserRepository interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramID, chatID int64, username string) (*models.User, error)
	GetByID(ctx context.Context, id uint) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetTimezone(ctx context.Context, userID uint, tz string) error

	// AutopayCandidates lists users whose subscription has expired, who still
	// carry a saved payment method and have not exhausted their retries.
	AutopayCandidates(ctx context.Context, now time.Time) ([]models.User, error)
}
