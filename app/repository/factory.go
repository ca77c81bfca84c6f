package repository

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Repositories bundles the persistence layer for injection into services.
type Repositories struct {
	Users UserRepository
	Meals MealRepository
}

// NewRepositories builds all repositories against the shared handles.
func NewRepositories(db *gorm.DB, cacheClient *redis.Client) *Repositories {
	return &Repositories{
		Users: NewUserRepository(db),
		Meals: NewMealRepository(db, cacheClient),
	}
}
