package models

import "time"

// DailyTotal is the denormalized per-user per-date rollup over Meal rows.
// It is recomputed from a fresh SUM inside the same transaction as every meal
// mutation, so at commit boundaries it always equals the live sum.
type DailyTotal struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_daily_totals_user_date;not null" json:"user_id"`
	Date      string    `gorm:"type:varchar(10);uniqueIndex:idx_daily_totals_user_date;not null" json:"date"`
	Calories  float64   `gorm:"not null" json:"calories"`
	Protein   float64   `gorm:"not null" json:"protein"`
	Fat       float64   `gorm:"not null" json:"fat"`
	Carbs     float64   `gorm:"not null" json:"carbs"`
	MealCount int       `gorm:"not null" json:"meal_count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsZero reports whether the total carries no meals.
func (d *DailyTotal) IsZero() bool {
	return d.MealCount == 0
}
