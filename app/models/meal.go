package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Meal is one food item consumed at one instant. The calendar date is fixed at
// creation time from the user's then-current timezone and never recomputed,
// even if the user later changes timezone.
type Meal struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index:idx_meals_user_date;not null" json:"user_id"`
	Date       string    `gorm:"type:varchar(10);index:idx_meals_user_date;not null" json:"date"`
	EatenAt    time.Time `gorm:"not null" json:"eaten_at"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name" validate:"required,max=255"`
	Weight     int       `gorm:"not null" json:"weight" validate:"min=1,max=5000"`
	Calories   float64   `gorm:"not null" json:"calories" validate:"min=0,max=5000"`
	Protein    float64   `gorm:"not null" json:"protein" validate:"min=0,max=500"`
	Fat        float64   `gorm:"not null" json:"fat" validate:"min=0,max=500"`
	Carbs      float64   `gorm:"not null" json:"carbs" validate:"min=0,max=1000"`
	Confidence float64   `gorm:"default:0.8" json:"confidence" validate:"min=0,max=1"`
	SourceText string    `gorm:"type:text" json:"source_text"`
	PhotoKey   string    `gorm:"type:varchar(255);default:null" json:"photo_key"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Meal) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

// DateIn formats the calendar date for an instant in the given location.
// This is the single place the "which day was that meal" rule lives.
func DateIn(at time.Time, loc *time.Location) string {
	return at.In(loc).Format("2006-01-02")
}
