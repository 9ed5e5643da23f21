package services

import (
	"context"
	"errors"
	"log"
	"time"

	"math-duel-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxSkipsPerDay bounds how many problems a user may decline per category
// per UTC calendar day before being forced to attempt one.
const MaxSkipsPerDay = 3

// SkipService enforces the daily skip quota.
type SkipService struct {
	DB *gorm.DB
}

func NewSkipService(db *gorm.DB) *SkipService {
	return &SkipService{DB: db}
}

// SkipQuota is the read view of a user's remaining skips for today.
type SkipQuota struct {
	SkipCount int  `json:"skip_count"`
	CanSkip   bool `json:"can_skip"`
	Remaining int  `json:"remaining"`
}

// SkipDateKey normalizes a timestamp to the UTC calendar day used as the
// skip-counter key. Derived once per request so a request spanning
// midnight can't observe two different quota windows.
func SkipDateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// GetQuota returns the user's skip quota for a category on the given day.
// An absent row means no skips used yet.
func (s *SkipService) GetQuota(ctx context.Context, userID, categoryID, day string) (*SkipQuota, error) {
	var row models.DailySkip
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ? AND category_id = ? AND skip_date = ?", userID, categoryID, day).
		First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr("fetch skip quota", err)
	}
	remaining := MaxSkipsPerDay - row.SkipCount
	if remaining < 0 {
		remaining = 0
	}
	return &SkipQuota{
		SkipCount: row.SkipCount,
		CanSkip:   row.SkipCount < MaxSkipsPerDay,
		Remaining: remaining,
	}, nil
}

// RecordSkip increments the user's skip counter for (category, day),
// creating the row on first use. At the cap it fails with QuotaExceeded
// and writes nothing. The increment is a conditional UPDATE guarded on
// skip_count < cap, so concurrent skips never lose updates or overshoot.
func (s *SkipService) RecordSkip(ctx context.Context, userID, categoryID, day string) (int, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	db := s.DB.WithContext(ctx)

	// Two passes: the second covers losing the insert race to a
	// concurrent first skip.
	for attempt := 0; attempt < 2; attempt++ {
		res := db.Model(&models.DailySkip{}).
			Where("external_user_id = ? AND category_id = ? AND skip_date = ? AND skip_count < ?",
				userID, categoryID, day, MaxSkipsPerDay).
			Update("skip_count", gorm.Expr("skip_count + 1"))
		if res.Error != nil {
			return 0, storageErr("increment skip count", res.Error)
		}
		if res.RowsAffected == 1 {
			return s.currentCount(db, userID, categoryID, day)
		}

		// No guarded row updated: either the row is at the cap, or it
		// doesn't exist yet.
		var existing models.DailySkip
		err := db.Where("external_user_id = ? AND category_id = ? AND skip_date = ?", userID, categoryID, day).
			First(&existing).Error
		if err == nil {
			return existing.SkipCount, ErrQuotaExceeded
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, storageErr("fetch skip row", err)
		}

		row := models.DailySkip{
			ExternalUserID: userID,
			CategoryID:     categoryID,
			SkipDate:       day,
			SkipCount:      1,
		}
		ins := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if ins.Error != nil {
			return 0, storageErr("create skip row", ins.Error)
		}
		if ins.RowsAffected == 1 {
			return 1, nil
		}
		// Insert lost the race; loop back into the conditional update.
	}
	return 0, storageErr("record skip", errors.New("insert/update race not settled"))
}

func (s *SkipService) currentCount(db *gorm.DB, userID, categoryID, day string) (int, error) {
	var row models.DailySkip
	if err := db.Where("external_user_id = ? AND category_id = ? AND skip_date = ?", userID, categoryID, day).
		First(&row).Error; err != nil {
		return 0, storageErr("read back skip count", err)
	}
	return row.SkipCount, nil
}

// GetSkipQuota handles GET /categories/:category_id/skips/quota
func (s *SkipService) GetSkipQuota(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	categoryID := c.Params("category_id")
	if categoryID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "category_id is required"})
	}

	quota, err := s.GetQuota(c.Context(), userID, categoryID, SkipDateKey(time.Now()))
	if err != nil {
		log.Printf("DB Error fetching skip quota for %s/%s: %v", userID, categoryID, err)
		return respondError(c, err)
	}
	return c.JSON(quota)
}

// RecordSkipHandler handles POST /categories/:category_id/skips
func (s *SkipService) RecordSkipHandler(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	categoryID := c.Params("category_id")
	if categoryID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "category_id is required"})
	}

	count, err := s.RecordSkip(c.Context(), userID, categoryID, SkipDateKey(time.Now()))
	if errors.Is(err, ErrQuotaExceeded) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":      "daily skip quota exceeded",
			"skip_count": count,
			"max_skips":  MaxSkipsPerDay,
		})
	}
	if err != nil {
		log.Printf("DB Error recording skip for %s/%s: %v", userID, categoryID, err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"skip_count": count,
		"remaining":  MaxSkipsPerDay - count,
	})
}
