package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/cache"
)

// summaryCacheTTL bounds staleness if an invalidation is ever lost.
const summaryCacheTTL = 5 * time.Minute

// mealRepository implements MealRepository on GORM. Every mutation recomputes
// the affected daily totals from a fresh SUM inside the same transaction,
// under a locking read of the source rows. Recompute-from-SUM is idempotent
// and self-heals from any earlier partial failure, which is why it is used
// instead of incremental counters.
type mealRepository struct {
	db    *gorm.DB
	cache *redis.Client
}

// NewMealRepository creates the ledger repository. The Redis client is used
// only for post-commit invalidation of the day-summary read cache and may be
// nil in tests.
func NewMealRepository(db *gorm.DB, cacheClient *redis.Client) MealRepository {
	return &mealRepository{db: db, cache: cacheClient}
}

func (r *mealRepository) SaveMeals(ctx context.Context, userID uint, meals []models.Meal, loc *time.Location) (*models.DailyTotal, error) {
	if len(meals) == 0 {
		return nil, fmt.Errorf("no meals to save")
	}

	now := time.Now()
	date := models.DateIn(now, loc)

	var total *models.DailyTotal
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range meals {
			meals[i].UserID = userID
			meals[i].Date = date
			meals[i].EatenAt = now
			if err := tx.Create(&meals[i]).Error; err != nil {
				return fmt.Errorf("insert meal %q: %w", meals[i].Name, err)
			}
		}

		fresh, err := recomputeTotal(tx, userID, date)
		if err != nil {
			return err
		}
		total = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx, userID, date)
	return total, nil
}

func (r *mealRepository) DeleteMeal(ctx context.Context, mealID, userID uint) (bool, error) {
	n, err := r.DeleteMeals(ctx, []uint{mealID}, userID)
	return n == 1, err
}

func (r *mealRepository) DeleteMeals(ctx context.Context, mealIDs []uint, userID uint) (int, error) {
	if len(mealIDs) == 0 {
		return 0, nil
	}

	var deleted int
	var dates []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Locking read doubles as the ownership check.
		var owned []models.Meal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ? AND user_id = ?", mealIDs, userID).
			Find(&owned).Error; err != nil {
			return fmt.Errorf("lock meals: %w", err)
		}
		if len(owned) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(owned))
		seen := make(map[string]struct{})
		for _, m := range owned {
			ids = append(ids, m.ID)
			if _, ok := seen[m.Date]; !ok {
				seen[m.Date] = struct{}{}
				dates = append(dates, m.Date)
			}
		}

		res := tx.Where("id IN ? AND user_id = ?", ids, userID).Delete(&models.Meal{})
		if res.Error != nil {
			return fmt.Errorf("delete meals: %w", res.Error)
		}
		deleted = int(res.RowsAffected)

		for _, d := range dates {
			if _, err := recomputeTotal(tx, userID, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, d := range dates {
		r.invalidate(ctx, userID, d)
	}
	return deleted, nil
}

func (r *mealRepository) UpdateMeal(ctx context.Context, mealID, userID uint, patch MealPatch) (bool, error) {
	var found bool
	var date string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meal models.Meal
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", mealID, userID).
			First(&meal).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock meal %d: %w", mealID, err)
		}
		found = true
		date = meal.Date

		applyPatch(&meal, patch)
		if err := meal.Validate(); err != nil {
			return fmt.Errorf("patched meal invalid: %w", err)
		}
		if err := tx.Save(&meal).Error; err != nil {
			return fmt.Errorf("update meal %d: %w", mealID, err)
		}

		_, err = recomputeTotal(tx, userID, date)
		return err
	})
	if err != nil {
		return false, err
	}

	if found {
		r.invalidate(ctx, userID, date)
	}
	return found, nil
}

func (r *mealRepository) TodaySummary(ctx context.Context, userID uint, loc *time.Location) (*models.DailyTotal, []models.Meal, error) {
	date := models.DateIn(time.Now(), loc)

	total, err := r.readTotal(ctx, userID, date)
	if err != nil {
		return nil, nil, err
	}

	var meals []models.Meal
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Order("eaten_at ASC, id ASC").
		Find(&meals).Error; err != nil {
		return nil, nil, fmt.Errorf("list meals: %w", err)
	}
	return total, meals, nil
}

func (r *mealRepository) WeekSummary(ctx context.Context, userID uint, loc *time.Location) ([]models.DailyTotal, error) {
	return r.History(ctx, userID, 7, loc)
}

func (r *mealRepository) History(ctx context.Context, userID uint, days int, loc *time.Location) ([]models.DailyTotal, error) {
	if days <= 0 {
		days = 7
	}

	today := time.Now().In(loc)
	from := models.DateIn(today.AddDate(0, 0, -(days-1)), loc)

	var rows []models.DailyTotal
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, from).
		Order("date ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	byDate := make(map[string]models.DailyTotal, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row
	}

	// Zero-fill: days without meals present as all-zero totals.
	out := make([]models.DailyTotal, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := models.DateIn(today.AddDate(0, 0, -i), loc)
		if row, ok := byDate[d]; ok {
			out = append(out, row)
		} else {
			out = append(out, models.DailyTotal{UserID: userID, Date: d})
		}
	}
	return out, nil
}

func (r *mealRepository) PurgeOlderThan(ctx context.Context, cutoffDate string) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("date < ?", cutoffDate).Delete(&models.Meal{})
		if res.Error != nil {
			return fmt.Errorf("purge meals: %w", res.Error)
		}
		purged = res.RowsAffected

		// Whole days fall out of retention together, so their total rows go too.
		if err := tx.Where("date < ?", cutoffDate).Delete(&models.DailyTotal{}).Error; err != nil {
			return fmt.Errorf("purge totals: %w", err)
		}
		return nil
	})
	return purged, err
}

// readTotal serves the daily total through the Redis read cache, falling back
// to the database on a miss. Mutations invalidate the key after commit.
func (r *mealRepository) readTotal(ctx context.Context, userID uint, date string) (*models.DailyTotal, error) {
	if r.cache != nil {
		if raw, err := cache.Get(ctx, r.cache, cache.DaySummaryKey(userID, date)); err == nil {
			var cached models.DailyTotal
			if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil {
				return &cached, nil
			}
		}
	}

	total := models.DailyTotal{UserID: userID, Date: date}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		First(&total).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("load total: %w", err)
	}

	if r.cache != nil {
		if data, jerr := json.Marshal(total); jerr == nil {
			_ = cache.Set(ctx, r.cache, cache.DaySummaryKey(userID, date), data, summaryCacheTTL)
		}
	}
	return &total, nil
}

func (r *mealRepository) invalidate(ctx context.Context, userID uint, date string) {
	if r.cache == nil {
		return
	}
	cache.InvalidateDaySummary(ctx, r.cache, userID, date)
}

// recomputeTotal rebuilds the (user, date) total from a locked SUM over the
// live meal rows and upserts (or deletes, when empty) the total row. Must run
// inside the same transaction as the mutation it follows.
func recomputeTotal(tx *gorm.DB, userID uint, date string) (*models.DailyTotal, error) {
	var sums struct {
		Calories  float64
		Protein   float64
		Fat       float64
		Carbs     float64
		MealCount int
	}
	err := tx.Model(&models.Meal{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("COALESCE(SUM(calories),0) AS calories, COALESCE(SUM(protein),0) AS protein, COALESCE(SUM(fat),0) AS fat, COALESCE(SUM(carbs),0) AS carbs, COUNT(*) AS meal_count").
		Where("user_id = ? AND date = ?", userID, date).
		Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("sum meals for %s: %w", date, err)
	}

	if sums.MealCount == 0 {
		if err := tx.Where("user_id = ? AND date = ?", userID, date).
			Delete(&models.DailyTotal{}).Error; err != nil {
			return nil, fmt.Errorf("drop empty total for %s: %w", date, err)
		}
		return &models.DailyTotal{UserID: userID, Date: date}, nil
	}

	total := models.DailyTotal{
		UserID:    userID,
		Date:      date,
		Calories:  sums.Calories,
		Protein:   sums.Protein,
		Fat:       sums.Fat,
		Carbs:     sums.Carbs,
		MealCount: sums.MealCount,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"calories", "protein", "fat", "carbs", "meal_count"}),
	}).Create(&total).Error
	if err != nil {
		return nil, fmt.Errorf("upsert total for %s: %w", date, err)
	}

	log.Debugf("[Ledger] Recomputed total user=%d date=%s meals=%d kcal=%.0f", userID, date, total.MealCount, total.Calories)
	return &total, nil
}

func applyPatch(meal *models.Meal, patch MealPatch) {
	if patch.Name != nil {
		meal.Name = *patch.Name
	}
	if patch.Weight != nil {
		meal.Weight = *patch.Weight
	}
	if patch.Calories != nil {
		meal.Calories = *patch.Calories
	}
	if patch.Protein != nil {
		meal.Protein = *patch.Protein
	}
	if patch.Fat != nil {
		meal.Fat = *patch.Fat
	}
	if patch.Carbs != nil {
		meal.Carbs = *patch.Carbs
	}
}
