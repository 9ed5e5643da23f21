package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"math-duel-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DuelService governs the duel lifecycle:
// waiting → active → {completed, cancelled}. Arena-spawned duels are
// created directly in active by the pairing service.
type DuelService struct {
	DB      *gorm.DB
	Ratings *RatingService
}

func NewDuelService(db *gorm.DB, ratings *RatingService) *DuelService {
	return &DuelService{DB: db, Ratings: ratings}
}

// Create opens a standalone duel in waiting with no opponent yet.
func (s *DuelService) Create(ctx context.Context, challengerID, categoryID string, difficulty int) (*models.Duel, error) {
	if challengerID == "" {
		return nil, ErrUnauthenticated
	}
	duel := models.Duel{
		ChallengerID: challengerID,
		CategoryID:   categoryID,
		Difficulty:   ClampDifficulty(difficulty),
		Status:       models.DuelStatusWaiting,
	}
	if err := s.DB.WithContext(ctx).Create(&duel).Error; err != nil {
		return nil, storageErr("create duel", err)
	}
	return &duel, nil
}

// Accept fills the opponent seat and activates a waiting duel. The CAS
// update is guarded on status so two near-simultaneous accepts can't
// both win the seat.
func (s *DuelService) Accept(ctx context.Context, duelID, opponentID string) (*models.Duel, error) {
	if opponentID == "" {
		return nil, ErrUnauthenticated
	}
	// a non-uuid id can't match the uuid column; querying it anyway
	// would be a type error, not a miss
	if uuid.Validate(duelID) != nil {
		return nil, ErrNotFound
	}
	db := s.DB.WithContext(ctx)

	var duel models.Duel
	if err := db.First(&duel, "id = ?", duelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("fetch duel", err)
	}
	if duel.Status != models.DuelStatusWaiting {
		return nil, fmt.Errorf("%w: duel is %s, not waiting", ErrInvalidTransition, duel.Status)
	}
	if duel.ChallengerID == opponentID {
		return nil, fmt.Errorf("%w: challenger cannot accept their own duel", ErrForbidden)
	}

	res := db.Model(&models.Duel{}).
		Where("id = ? AND status = ?", duelID, models.DuelStatusWaiting).
		Updates(map[string]interface{}{
			"opponent_id": opponentID,
			"status":      models.DuelStatusActive,
		})
	if res.Error != nil {
		return nil, storageErr("accept duel", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: duel no longer waiting", ErrInvalidTransition)
	}

	if err := db.First(&duel, "id = ?", duelID).Error; err != nil {
		return nil, storageErr("read back duel", err)
	}
	return &duel, nil
}

// Cancel withdraws a waiting duel. Only the challenger may cancel, and
// only pre-acceptance; once active the only exit is Complete (a forfeit
// is a Complete carrying a loss result).
func (s *DuelService) Cancel(ctx context.Context, duelID, actorID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	if uuid.Validate(duelID) != nil {
		return ErrNotFound
	}
	db := s.DB.WithContext(ctx)

	var duel models.Duel
	if err := db.First(&duel, "id = ?", duelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return storageErr("fetch duel", err)
	}
	if duel.Status != models.DuelStatusWaiting {
		return fmt.Errorf("%w: duel is %s, not waiting", ErrInvalidTransition, duel.Status)
	}
	if duel.ChallengerID != actorID {
		return fmt.Errorf("%w: only the challenger may cancel", ErrForbidden)
	}

	res := db.Model(&models.Duel{}).
		Where("id = ? AND status = ?", duelID, models.DuelStatusWaiting).
		Update("status", models.DuelStatusCancelled)
	if res.Error != nil {
		return storageErr("cancel duel", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: duel no longer waiting", ErrInvalidTransition)
	}
	return nil
}

// Complete finishes an active duel with the given result and applies the
// rating deltas for both participants in the same transaction. The
// active→completed CAS makes a second Complete fail with
// InvalidTransition, so the deltas apply exactly once. For tournament
// duels the loser's entrant is eliminated and the winner's entrant is
// re-queued as waiting for the next pairing round.
func (s *DuelService) Complete(ctx context.Context, duelID, actorID, result string) (*models.Duel, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}
	switch result {
	case models.DuelResultChallengerWon, models.DuelResultOpponentWon, models.DuelResultDraw:
	default:
		return nil, fmt.Errorf("%w: unknown result %q", ErrInvalidTransition, result)
	}
	if uuid.Validate(duelID) != nil {
		return nil, ErrNotFound
	}

	var completed models.Duel
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var duel models.Duel
		if err := tx.First(&duel, "id = ?", duelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return storageErr("fetch duel", err)
		}
		if duel.Status != models.DuelStatusActive {
			return fmt.Errorf("%w: duel is %s, not active", ErrInvalidTransition, duel.Status)
		}
		if duel.OpponentID == nil {
			return fmt.Errorf("%w: active duel without opponent", ErrInvalidTransition)
		}
		if actorID != duel.ChallengerID && actorID != *duel.OpponentID {
			return fmt.Errorf("%w: only a participant may complete the duel", ErrForbidden)
		}

		now := time.Now().UTC()
		res := tx.Model(&models.Duel{}).
			Where("id = ? AND status = ?", duelID, models.DuelStatusActive).
			Updates(map[string]interface{}{
				"status":       models.DuelStatusCompleted,
				"result":       result,
				"completed_at": now,
			})
		if res.Error != nil {
			return storageErr("complete duel", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: duel already settled", ErrInvalidTransition)
		}

		if err := s.settleRatings(tx, &duel, result); err != nil {
			return err
		}
		if duel.TournamentID != nil {
			if err := s.settleEntrants(tx, &duel, result, now); err != nil {
				return err
			}
		}

		duel.Status = models.DuelStatusCompleted
		duel.Result = &result
		duel.CompletedAt = &now
		completed = duel
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Ratings != nil {
		s.Ratings.invalidateLeaderboard(ctx)
	}
	return &completed, nil
}

// settleRatings applies the graded outcome to both participants. The
// winner banks the positive delta as points and one solved problem; the
// loser only loses rating. A draw moves nothing.
func (s *DuelService) settleRatings(tx *gorm.DB, duel *models.Duel, result string) error {
	if result == models.DuelResultDraw {
		return nil
	}
	winnerID, loserID := duel.ChallengerID, *duel.OpponentID
	if result == models.DuelResultOpponentWon {
		winnerID, loserID = loserID, winnerID
	}

	winDelta := ComputeDelta(duel.Difficulty, true)
	loseDelta := ComputeDelta(duel.Difficulty, false)

	if _, err := applyDelta(tx, winnerID, winDelta, int64(winDelta), 1); err != nil {
		return err
	}
	if _, err := applyDelta(tx, loserID, loseDelta, 0, 0); err != nil {
		return err
	}
	return nil
}

// settleEntrants eliminates the loser and re-queues the winner in the
// duel's arena. A draw re-queues both.
func (s *DuelService) settleEntrants(tx *gorm.DB, duel *models.Duel, result string, now time.Time) error {
	requeue := func(userID string) error {
		res := tx.Model(&models.Entrant{}).
			Where("tournament_id = ? AND external_user_id = ? AND status = ?",
				*duel.TournamentID, userID, models.EntrantStatusPaired).
			Updates(map[string]interface{}{
				"status":    models.EntrantStatusWaiting,
				"duel_id":   nil,
				"joined_at": now,
			})
		return res.Error
	}
	eliminate := func(userID string) error {
		res := tx.Model(&models.Entrant{}).
			Where("tournament_id = ? AND external_user_id = ? AND status = ?",
				*duel.TournamentID, userID, models.EntrantStatusPaired).
			Update("status", models.EntrantStatusEliminated)
		return res.Error
	}

	switch result {
	case models.DuelResultDraw:
		if err := requeue(duel.ChallengerID); err != nil {
			return storageErr("requeue challenger entrant", err)
		}
		if err := requeue(*duel.OpponentID); err != nil {
			return storageErr("requeue opponent entrant", err)
		}
	case models.DuelResultChallengerWon:
		if err := requeue(duel.ChallengerID); err != nil {
			return storageErr("requeue winner entrant", err)
		}
		if err := eliminate(*duel.OpponentID); err != nil {
			return storageErr("eliminate loser entrant", err)
		}
	case models.DuelResultOpponentWon:
		if err := requeue(*duel.OpponentID); err != nil {
			return storageErr("requeue winner entrant", err)
		}
		if err := eliminate(duel.ChallengerID); err != nil {
			return storageErr("eliminate loser entrant", err)
		}
	}
	return nil
}

// --- HTTP handlers ---

type createDuelRequest struct {
	CategoryID string `json:"category_id"`
	Difficulty int    `json:"difficulty"`
}

// CreateDuel handles POST /duels
func (s *DuelService) CreateDuel(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var req createDuelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.CategoryID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "category_id is required"})
	}

	duel, err := s.Create(c.Context(), userID, req.CategoryID, req.Difficulty)
	if err != nil {
		log.Printf("DB Error creating duel for %s: %v", userID, err)
		return respondError(c, err)
	}
	return c.Status(201).JSON(duel)
}

// GetDuel handles GET /duels/:id
func (s *DuelService) GetDuel(c *fiber.Ctx) error {
	if uuid.Validate(c.Params("id")) != nil {
		return c.Status(404).JSON(fiber.Map{"error": "duel not found"})
	}
	var duel models.Duel
	if err := s.DB.First(&duel, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "duel not found"})
		}
		log.Printf("DB Error fetching duel %s: %v", c.Params("id"), err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(duel)
}

// ListMyDuels handles GET /users/me/duels?status=
func (s *DuelService) ListMyDuels(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	db := s.DB.Where("challenger_id = ? OR opponent_id = ?", userID, userID)
	if status := c.Query("status"); status != "" {
		db = db.Where("status = ?", status)
	}
	var duels []models.Duel
	if err := db.Order("created_at DESC").Limit(100).Find(&duels).Error; err != nil {
		log.Printf("DB Error listing duels for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(duels)
}

// AcceptDuel handles POST /duels/:id/accept
func (s *DuelService) AcceptDuel(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	duel, err := s.Accept(c.Context(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(duel)
}

// CancelDuel handles POST /duels/:id/cancel. Rejections are reported
// synchronously so the client can show why the cancellation failed.
func (s *DuelService) CancelDuel(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.Cancel(c.Context(), c.Params("id"), userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "duel cancelled", "duel_id": c.Params("id")})
}

type completeDuelRequest struct {
	Result string `json:"result"`
}

// CompleteDuel handles POST /duels/:id/complete
func (s *DuelService) CompleteDuel(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var req completeDuelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	duel, err := s.Complete(c.Context(), c.Params("id"), userID, req.Result)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(duel)
}
