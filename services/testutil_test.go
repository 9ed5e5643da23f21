package services

import (
	"os"
	"testing"

	"math-duel-system/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens the database named by TEST_DATABASE_URL, migrates the
// schema and wipes all rows. Tests needing postgres are skipped when the
// variable is unset so the pure-logic tests still run everywhere.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Category{},
		&models.Tournament{},
		&models.Arena{},
		&models.Entrant{},
		&models.Duel{},
		&models.UserRating{},
		&models.DailySkip{},
		&models.PlatformUser{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	if err := db.Exec(
		"TRUNCATE tournaments, arenas, entrants, duels, user_ratings, daily_skips, categories, platform_users CASCADE",
	).Error; err != nil {
		t.Fatalf("failed to clean test database: %v", err)
	}

	return db
}
