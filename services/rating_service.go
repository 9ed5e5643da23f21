package services

import (
	"context"
	"errors"
	"log"
	"math"

	"math-duel-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RatingService owns the per-user cumulative rating statistics.
type RatingService struct {
	DB    *gorm.DB
	Cache *redis.Client
}

func NewRatingService(db *gorm.DB, cache *redis.Client) *RatingService {
	return &RatingService{DB: db, Cache: cache}
}

// Difficulty bounds accepted by the delta formula.
const (
	MinDifficulty = 1
	MaxDifficulty = 10
)

// ClampDifficulty forces a difficulty into [1,10]. Callers are expected
// to send valid values; out-of-range input is clamped rather than
// rejected so a bad problem record can never poison a rating update.
func ClampDifficulty(difficulty int) int {
	if difficulty < MinDifficulty {
		return MinDifficulty
	}
	if difficulty > MaxDifficulty {
		return MaxDifficulty
	}
	return difficulty
}

// ComputeDelta maps (difficulty, outcome) to a rating delta:
// base = 10 + difficulty*7; a correct attempt earns +base, an incorrect
// one costs floor(base*0.8). Pure and deterministic.
func ComputeDelta(difficulty int, correct bool) int {
	base := 10 + ClampDifficulty(difficulty)*7
	if correct {
		return base
	}
	return -int(math.Floor(float64(base) * 0.8))
}

// ApplyDelta merges a (rating, points, solved) delta into the user's
// statistics row as one atomic statement. The row is created lazily with
// the defaults (rating 1000, zero points, zero solved) and both rating
// and total points are clamped at zero. Negative point deltas never
// reduce cumulative points. Two concurrent applies for the same user
// both land: the upsert increments in SQL instead of read-then-write.
func (s *RatingService) ApplyDelta(ctx context.Context, userID string, ratingDelta int, pointsDelta int64, solvedIncrement int64) (*models.UserRating, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	row, err := applyDelta(s.DB.WithContext(ctx), userID, ratingDelta, pointsDelta, solvedIncrement)
	if err != nil {
		return nil, err
	}
	s.invalidateLeaderboard(ctx)
	return row, nil
}

// applyDelta is the transaction-aware core of ApplyDelta; duel completion
// runs it inside its own transaction so a failed write applies nothing.
func applyDelta(tx *gorm.DB, userID string, ratingDelta int, pointsDelta int64, solvedIncrement int64) (*models.UserRating, error) {
	if pointsDelta < 0 {
		pointsDelta = 0
	}
	if solvedIncrement < 0 {
		solvedIncrement = 0
	}

	insertRating := models.DefaultRating + ratingDelta
	if insertRating < 0 {
		insertRating = 0
	}

	row := models.UserRating{
		ExternalUserID: userID,
		Rating:         insertRating,
		TotalPoints:    pointsDelta,
		ProblemsSolved: solvedIncrement,
	}

	// Single INSERT ... ON CONFLICT DO UPDATE so rating, points and solved
	// move together and concurrent deltas both apply.
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"rating":          gorm.Expr("GREATEST(user_ratings.rating + ?, 0)", ratingDelta),
			"total_points":    gorm.Expr("GREATEST(user_ratings.total_points + ?, 0)", pointsDelta),
			"problems_solved": gorm.Expr("user_ratings.problems_solved + ?", solvedIncrement),
			"updated_at":      gorm.Expr("NOW()"),
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, storageErr("apply rating delta", err)
	}

	var updated models.UserRating
	if err := tx.Where("external_user_id = ?", userID).First(&updated).Error; err != nil {
		return nil, storageErr("read back rating", err)
	}
	return &updated, nil
}

// GetRating returns the statistics row, or the lazy-creation defaults
// when the user has no rating-affecting event yet.
func (s *RatingService) GetRating(ctx context.Context, userID string) (*models.UserRating, error) {
	var row models.UserRating
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserRating{
			ExternalUserID: userID,
			Rating:         models.DefaultRating,
		}, nil
	}
	if err != nil {
		return nil, storageErr("fetch rating", err)
	}
	return &row, nil
}

// invalidateLeaderboard drops cached leaderboard views after a rating
// write; readers tolerate the short window until the cache worker
// rebuilds them.
func (s *RatingService) invalidateLeaderboard(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	keys, err := s.Cache.Keys(ctx, "leaderboard:*").Result()
	if err != nil {
		log.Printf("⚠️ Failed to list leaderboard cache keys: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.Cache.Del(ctx, keys...).Err(); err != nil {
		log.Printf("⚠️ Failed to invalidate %d leaderboard cache keys: %v", len(keys), err)
	}
}

// GetUserRating handles GET /users/:user_id/rating
func (s *RatingService) GetUserRating(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required"})
	}
	row, err := s.GetRating(c.Context(), userID)
	if err != nil {
		log.Printf("DB Error fetching rating for %s: %v", userID, err)
		return respondError(c, err)
	}
	return c.JSON(row)
}

// GetMyRating handles GET /users/me/rating
func (s *RatingService) GetMyRating(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	row, err := s.GetRating(c.Context(), userID)
	if err != nil {
		log.Printf("DB Error fetching rating for %s: %v", userID, err)
		return respondError(c, err)
	}
	return c.JSON(row)
}
