package repository

import (
	"fmt"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/env"
)

// newTestDB connects to a reachable MySQL endpoint, migrates the schema into
// an isolated test database and skips the test when none is available.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	hosts := []string{
		env.GetEnv("DB_HOST", ""),
		"db",
		"localhost",
		"127.0.0.1",
	}

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=2s",
			env.GetEnv("DB_USER", "root"),
			env.GetEnv("DB_PASSWORD", ""),
			host,
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_TEST_NAME", "kcalbot_test"),
		)

		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			lastErr = err
			continue
		}
		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}
		if err := sqlDB.Ping(); err != nil {
			_ = sqlDB.Close()
			lastErr = err
			continue
		}

		if err := db.AutoMigrate(
			&models.User{},
			&models.Meal{},
			&models.DailyTotal{},
			&models.Payment{},
		); err != nil {
			t.Fatalf("failed to migrate test database: %v", err)
		}

		truncateAll(db)
		t.Cleanup(func() {
			truncateAll(db)
			_ = sqlDB.Close()
		})
		return db
	}

	t.Skipf("Skipping MySQL-dependent test: no reachable database (%v)", lastErr)
	return nil
}

func truncateAll(db *gorm.DB) {
	for _, table := range []string{"meals", "daily_totals", "payments", "users"} {
		db.Exec("DELETE FROM " + table)
	}
}
