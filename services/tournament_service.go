package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"math-duel-system/models"
	"math-duel-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type TournamentService struct {
	DB *gorm.DB
}

func NewTournamentService(db *gorm.DB) *TournamentService {
	return &TournamentService{DB: db}
}

// CreateTournament handles POST /tournaments (admin). Multipart form so
// an optional banner image can ride along; the banner lands in R2.
func (s *TournamentService) CreateTournament(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}

	name := c.FormValue("name")
	description := c.FormValue("description")
	categoryID := c.FormValue("category_id")
	difficultyStr := c.FormValue("difficulty")
	maxEntrantsStr := c.FormValue("max_entrants")
	startTimeStr := c.FormValue("start_time")
	endTimeStr := c.FormValue("end_time")
	publishAtStr := c.FormValue("publish_at") // RFC3339; empty = stay draft

	if name == "" || categoryID == "" || startTimeStr == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name, category_id, and start_time are required"})
	}

	var category models.Category
	if err := s.DB.First(&category, "id = ?", categoryID).Error; err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "category_id not found"})
	}

	difficulty := 5
	if difficultyStr != "" {
		if n, err := strconv.Atoi(difficultyStr); err == nil {
			difficulty = ClampDifficulty(n)
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "difficulty must be an integer"})
		}
	}

	maxEntrants := 0
	if maxEntrantsStr != "" {
		if n, err := strconv.Atoi(maxEntrantsStr); err == nil && n >= 0 {
			maxEntrants = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "max_entrants must be a non-negative integer"})
		}
	}

	startTime, err := time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid start_time (use RFC3339)"})
	}
	var endTime time.Time
	if endTimeStr != "" {
		endTime, err = time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid end_time (use RFC3339)"})
		}
	}

	status := models.TournamentStatusDraft
	var publishAt *time.Time
	if publishAtStr != "" {
		t, err := time.Parse(time.RFC3339, publishAtStr)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid publish_at (use RFC3339)"})
		}
		publishAt = &t
		status = models.TournamentStatusScheduled
	}

	tournamentID := uuid.NewString()

	var bannerURL string
	if banner, err := c.FormFile("banner"); err == nil && banner.Size > 0 {
		ext := filepath.Ext(banner.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := fmt.Sprintf("tournament-banners/%s%s", tournamentID, ext)
		url, err := utils.UploadFileToR2(banner, key)
		if err != nil {
			log.Printf("R2 Error uploading banner for %s: %v", tournamentID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload banner"})
		}
		bannerURL = url
	}

	tournament := models.Tournament{
		ID:          tournamentID,
		Name:        name,
		Slug:        fmt.Sprintf("%s-%.8s", slug.Make(name), tournamentID),
		Description: description,
		CategoryID:  categoryID,
		Difficulty:  difficulty,
		BannerURL:   bannerURL,
		Status:      status,
		MaxEntrants: maxEntrants,
		PublishAt:   publishAt,
		StartTime:   startTime,
		EndTime:     endTime,
		CreatedBy:   userID,
	}
	if err := s.DB.Create(&tournament).Error; err != nil {
		log.Printf("DB Error creating tournament: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create tournament"})
	}

	return c.Status(201).JSON(tournament)
}

// Open transitions a tournament to open and creates its first arena so
// entrants can start queueing. Idempotent: a second open is rejected by
// the status guard.
func (s *TournamentService) Open(tournamentID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tournament{}).
			Where("id = ? AND status IN ?", tournamentID,
				[]string{models.TournamentStatusDraft, models.TournamentStatusScheduled}).
			Updates(map[string]interface{}{
				"status":     models.TournamentStatusOpen,
				"publish_at": nil,
			})
		if res.Error != nil {
			return storageErr("open tournament", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: tournament cannot be opened", ErrInvalidTransition)
		}
		arena := models.Arena{
			ID:           uuid.NewString(),
			TournamentID: tournamentID,
			RoundNumber:  1,
			Status:       models.ArenaStatusOpen,
		}
		if err := tx.Create(&arena).Error; err != nil {
			return storageErr("create arena", err)
		}
		return nil
	})
}

// Close shuts the tournament and its arenas; remaining waiting entrants
// are eliminated (the tournament is over, nobody is left to pair).
func (s *TournamentService) Close(tournamentID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tournament{}).
			Where("id = ? AND status = ?", tournamentID, models.TournamentStatusOpen).
			Update("status", models.TournamentStatusClosed)
		if res.Error != nil {
			return storageErr("close tournament", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: tournament is not open", ErrInvalidTransition)
		}
		if err := tx.Model(&models.Arena{}).
			Where("tournament_id = ?", tournamentID).
			Update("status", models.ArenaStatusClosed).Error; err != nil {
			return storageErr("close arenas", err)
		}
		if err := tx.Model(&models.Entrant{}).
			Where("tournament_id = ? AND status = ?", tournamentID, models.EntrantStatusWaiting).
			Update("status", models.EntrantStatusEliminated).Error; err != nil {
			return storageErr("eliminate waiting entrants", err)
		}
		return nil
	})
}

// PublishNow handles POST /tournaments/:id/publish/now
func (s *TournamentService) PublishNow(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	if err := s.Open(c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "tournament opened", "tournament_id": c.Params("id")})
}

// SchedulePublish handles POST /tournaments/:id/publish/schedule
func (s *TournamentService) SchedulePublish(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	var req struct {
		PublishAt string `json:"publish_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	t, err := time.Parse(time.RFC3339, req.PublishAt)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid publish_at (use RFC3339)"})
	}

	res := s.DB.Model(&models.Tournament{}).
		Where("id = ? AND status IN ?", c.Params("id"),
			[]string{models.TournamentStatusDraft, models.TournamentStatusScheduled}).
		Updates(map[string]interface{}{
			"status":     models.TournamentStatusScheduled,
			"publish_at": t,
		})
	if res.Error != nil {
		log.Printf("DB Error scheduling tournament %s: %v", c.Params("id"), res.Error)
		return c.Status(500).JSON(fiber.Map{"error": "failed to schedule publish"})
	}
	if res.RowsAffected == 0 {
		return respondError(c, fmt.Errorf("%w: tournament cannot be scheduled", ErrInvalidTransition))
	}
	return c.JSON(fiber.Map{"message": "publish scheduled", "publish_at": t})
}

// CancelScheduledPublish handles POST /tournaments/:id/publish/cancel
func (s *TournamentService) CancelScheduledPublish(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	res := s.DB.Model(&models.Tournament{}).
		Where("id = ? AND status = ?", c.Params("id"), models.TournamentStatusScheduled).
		Updates(map[string]interface{}{
			"status":     models.TournamentStatusDraft,
			"publish_at": nil,
		})
	if res.Error != nil {
		log.Printf("DB Error cancelling schedule for %s: %v", c.Params("id"), res.Error)
		return c.Status(500).JSON(fiber.Map{"error": "failed to cancel scheduled publish"})
	}
	if res.RowsAffected == 0 {
		return respondError(c, fmt.Errorf("%w: tournament is not scheduled", ErrInvalidTransition))
	}
	return c.JSON(fiber.Map{"message": "scheduled publish cancelled"})
}

// CloseTournament handles POST /tournaments/:id/close
func (s *TournamentService) CloseTournament(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	if err := s.Close(c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "tournament closed", "tournament_id": c.Params("id")})
}

// GetOpenTournaments handles GET /tournaments/open
func (s *TournamentService) GetOpenTournaments(c *fiber.Ctx) error {
	var tournaments []models.Tournament
	if err := s.DB.Where("status = ?", models.TournamentStatusOpen).
		Order("start_time ASC").
		Find(&tournaments).Error; err != nil {
		log.Printf("DB Error listing open tournaments: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	for i := range tournaments {
		s.DB.Model(&models.Entrant{}).
			Where("tournament_id = ? AND status <> ?", tournaments[i].ID, models.EntrantStatusEliminated).
			Count(&tournaments[i].EntrantCount)
		s.DB.Model(&models.Entrant{}).
			Where("tournament_id = ? AND status = ?", tournaments[i].ID, models.EntrantStatusWaiting).
			Count(&tournaments[i].WaitingCount)
	}
	return c.JSON(tournaments)
}

// GetTournament handles GET /tournaments/:id (id or slug)
func (s *TournamentService) GetTournament(c *fiber.Ctx) error {
	idOrSlug := c.Params("id")
	var tournament models.Tournament
	var err error
	// a non-uuid path segment is a slug; comparing it against the uuid
	// column would be a type error, not a miss
	if uuid.Validate(idOrSlug) == nil {
		err = s.DB.Preload("Arenas").First(&tournament, "id = ?", idOrSlug).Error
	} else {
		err = s.DB.Preload("Arenas").First(&tournament, "slug = ?", idOrSlug).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	if err != nil {
		log.Printf("DB Error fetching tournament %s: %v", idOrSlug, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	s.DB.Model(&models.Entrant{}).
		Where("tournament_id = ? AND status <> ?", tournament.ID, models.EntrantStatusEliminated).
		Count(&tournament.EntrantCount)
	s.DB.Model(&models.Entrant{}).
		Where("tournament_id = ? AND status = ?", tournament.ID, models.EntrantStatusWaiting).
		Count(&tournament.WaitingCount)

	return c.JSON(tournament)
}

// DeleteTournament handles DELETE /tournaments/:id (drafts only)
func (s *TournamentService) DeleteTournament(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	res := s.DB.Where("id = ? AND status = ?", c.Params("id"), models.TournamentStatusDraft).
		Delete(&models.Tournament{})
	if res.Error != nil {
		log.Printf("DB Error deleting tournament %s: %v", c.Params("id"), res.Error)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if res.RowsAffected == 0 {
		return respondError(c, fmt.Errorf("%w: only draft tournaments can be deleted", ErrInvalidTransition))
	}
	return c.JSON(fiber.Map{"message": "tournament deleted"})
}
