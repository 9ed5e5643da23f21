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
	"gorm.io/gorm/clause"
)

// PairingService converts an arena's pool of waiting entrants into
// non-overlapping active duels. It is invoked concurrently by every
// client polling the lobby plus the server-side sweep, so every step is
// a no-op unless it atomically claims work.
type PairingService struct {
	DB *gorm.DB
}

func NewPairingService(db *gorm.DB) *PairingService {
	return &PairingService{DB: db}
}

// buildPairs pairs claimed entrants consecutively in join-time order:
// (0,1), (2,3), ... An odd trailing entrant is left out and stays
// waiting for the next sweep.
func buildPairs(entrants []models.Entrant) [][2]models.Entrant {
	var pairs [][2]models.Entrant
	for i := 0; i+1 < len(entrants); i += 2 {
		pairs = append(pairs, [2]models.Entrant{entrants[i], entrants[i+1]})
	}
	return pairs
}

// RunSweep claims the arena's waiting entrants and pairs them two at a
// time into active duels, returning how many duels it created (callers
// use the count for logging only).
//
// The claim is SELECT ... FOR UPDATE SKIP LOCKED: a concurrent sweep
// holding some rows makes us skip them, so no entrant can land in two
// duels and redundant invocations degrade to no-ops. Each pair commits
// through its own savepoint — a failed duel insert rolls just that pair
// back to waiting while earlier pairs stay committed.
func (s *PairingService) RunSweep(ctx context.Context, arenaID string) (int, error) {
	created := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var arena models.Arena
		if err := tx.First(&arena, "id = ?", arenaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return storageErr("fetch arena", err)
		}
		if arena.Status != models.ArenaStatusOpen {
			return nil // closed arena: nothing to pair
		}

		var tournament models.Tournament
		if err := tx.First(&tournament, "id = ?", arena.TournamentID).Error; err != nil {
			return storageErr("fetch tournament", err)
		}

		var entrants []models.Entrant
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("arena_id = ? AND status = ?", arenaID, models.EntrantStatusWaiting).
			Order("joined_at ASC").
			Find(&entrants).Error; err != nil {
			return storageErr("claim waiting entrants", err)
		}
		if len(entrants) < 2 {
			return nil
		}

		for _, pair := range buildPairs(entrants) {
			challenger, opponent := pair[0], pair[1]
			err := tx.Transaction(func(ptx *gorm.DB) error { // savepoint per pair
				duel := models.Duel{
					ID:           uuid.NewString(),
					ChallengerID: challenger.ExternalUserID,
					OpponentID:   &opponent.ExternalUserID,
					CategoryID:   tournament.CategoryID,
					Difficulty:   tournament.Difficulty,
					Status:       models.DuelStatusActive,
					TournamentID: &arena.TournamentID,
					ArenaID:      &arena.ID,
				}
				if err := ptx.Create(&duel).Error; err != nil {
					return err
				}
				for _, e := range pair {
					res := ptx.Model(&models.Entrant{}).
						Where("id = ? AND status = ?", e.ID, models.EntrantStatusWaiting).
						Updates(map[string]interface{}{
							"status":  models.EntrantStatusPaired,
							"duel_id": duel.ID,
						})
					if res.Error != nil {
						return res.Error
					}
					if res.RowsAffected == 0 {
						return fmt.Errorf("entrant %s no longer waiting", e.ID)
					}
				}
				return nil
			})
			if err != nil {
				log.Printf("⚠️ Pairing failed for entrants %s/%s in arena %s: %v (pair left waiting)",
					challenger.ID, opponent.ID, arenaID, err)
				continue
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		log.Printf("🤝 Arena %s: paired %d duel(s)", arenaID, created)
	}
	return created, nil
}

// SweepOpenArenas runs a sweep over every open arena holding at least
// two waiting entrants. Called by the gocron scheduler.
func (s *PairingService) SweepOpenArenas(ctx context.Context) {
	var arenaIDs []string
	err := s.DB.WithContext(ctx).Raw(`
		SELECT e.arena_id FROM entrants e
		JOIN arenas a ON a.id = e.arena_id AND a.status = ?
		WHERE e.status = ? AND e.deleted_at IS NULL
		GROUP BY e.arena_id
		HAVING COUNT(*) >= 2`,
		models.ArenaStatusOpen, models.EntrantStatusWaiting,
	).Scan(&arenaIDs).Error
	if err != nil {
		log.Printf("[Sweep] DB error listing arenas: %v", err)
		return
	}
	for _, id := range arenaIDs {
		if _, err := s.RunSweep(ctx, id); err != nil {
			// transient: the next tick retries
			log.Printf("[Sweep] arena %s failed: %v", id, err)
		}
	}
}

// Join enters a user into the tournament's open arena as a waiting
// entrant and triggers an immediate sweep. A user holds at most one
// non-eliminated entrant per tournament (guarded INSERT ... WHERE NOT
// EXISTS), and the entrant cap holds under concurrent joins: the
// tournament row is locked FOR UPDATE first, serializing the count and
// the insert against other joins into the same tournament.
func (s *PairingService) Join(ctx context.Context, tournamentID, userID string) (*models.Entrant, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if uuid.Validate(tournamentID) != nil {
		return nil, ErrNotFound
	}

	var arenaID string
	var entrant models.Entrant
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tournament models.Tournament
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&tournament, "id = ?", tournamentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return storageErr("fetch tournament", err)
		}
		if tournament.Status != models.TournamentStatusOpen {
			return fmt.Errorf("%w: tournament is %s, not open", ErrInvalidTransition, tournament.Status)
		}

		var arena models.Arena
		if err := tx.Where("tournament_id = ? AND status = ?", tournamentID, models.ArenaStatusOpen).
			Order("round_number DESC").
			First(&arena).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: tournament has no open arena", ErrInvalidTransition)
			}
			return storageErr("fetch arena", err)
		}
		arenaID = arena.ID

		if tournament.MaxEntrants > 0 {
			var count int64
			if err := tx.Model(&models.Entrant{}).
				Where("tournament_id = ? AND status <> ?", tournamentID, models.EntrantStatusEliminated).
				Count(&count).Error; err != nil {
				return storageErr("count entrants", err)
			}
			if count >= int64(tournament.MaxEntrants) {
				return fmt.Errorf("%w: tournament is full", ErrInvalidTransition)
			}
		}

		entrantID := uuid.NewString()
		now := time.Now().UTC()
		res := tx.Exec(`
			INSERT INTO entrants (id, external_user_id, tournament_id, arena_id, joined_at, status, created_at, updated_at)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM entrants
				WHERE tournament_id = ? AND external_user_id = ? AND status <> ? AND deleted_at IS NULL
			)`,
			entrantID, userID, tournamentID, arena.ID, now, models.EntrantStatusWaiting, now, now,
			tournamentID, userID, models.EntrantStatusEliminated,
		)
		if res.Error != nil {
			return storageErr("create entrant", res.Error)
		}
		if res.RowsAffected == 0 {
			// already in the lobby; joining is idempotent
			if err := tx.Where("tournament_id = ? AND external_user_id = ? AND status <> ?",
				tournamentID, userID, models.EntrantStatusEliminated).
				First(&entrant).Error; err != nil {
				return storageErr("create entrant", errors.New("guarded insert affected no rows"))
			}
			return nil
		}
		entrant.ID = entrantID
		return nil
	})
	if err != nil {
		return nil, err
	}

	// On-entry trigger: pair immediately instead of waiting for the tick.
	if _, err := s.RunSweep(ctx, arenaID); err != nil {
		log.Printf("[Join] immediate sweep for arena %s failed: %v", arenaID, err)
	}

	var reread models.Entrant
	if err := s.DB.WithContext(ctx).First(&reread, "id = ?", entrant.ID).Error; err != nil {
		return nil, storageErr("read back entrant", err)
	}
	return &reread, nil
}

// Withdraw removes a still-waiting entrant from the pool. Once paired
// the entrant's duel must be completed (or forfeited) instead.
func (s *PairingService) Withdraw(ctx context.Context, tournamentID, userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	db := s.DB.WithContext(ctx)

	res := db.Model(&models.Entrant{}).
		Where("tournament_id = ? AND external_user_id = ? AND status = ?",
			tournamentID, userID, models.EntrantStatusWaiting).
		Update("status", models.EntrantStatusEliminated)
	if res.Error != nil {
		return storageErr("withdraw entrant", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Entrant
		err := db.Where("tournament_id = ? AND external_user_id = ?", tournamentID, userID).
			Order("joined_at DESC").
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return storageErr("fetch entrant", err)
		}
		return fmt.Errorf("%w: entrant is %s, not waiting", ErrInvalidTransition, existing.Status)
	}
	return nil
}

// --- HTTP handlers ---

// JoinTournament handles POST /tournaments/:id/join
func (s *PairingService) JoinTournament(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	entrant, err := s.Join(c.Context(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(entrant)
}

// WithdrawFromTournament handles POST /tournaments/:id/withdraw
func (s *PairingService) WithdrawFromTournament(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.Withdraw(c.Context(), c.Params("id"), userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "withdrawn", "tournament_id": c.Params("id")})
}

// TriggerPairing handles POST /tournaments/:id/pair — the client-driven
// trigger transport. Lobby clients call it on a fixed cadence; a failed
// sweep surfaces as an error the caller simply retries on its next tick.
func (s *PairingService) TriggerPairing(c *fiber.Ctx) error {
	if _, err := actingUser(c); err != nil {
		return respondError(c, err)
	}
	tournamentID := c.Params("id")

	var arena models.Arena
	if err := s.DB.Where("tournament_id = ? AND status = ?", tournamentID, models.ArenaStatusOpen).
		Order("round_number DESC").
		First(&arena).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no open arena for tournament"})
		}
		log.Printf("DB Error fetching arena for tournament %s: %v", tournamentID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	created, err := s.RunSweep(c.Context(), arena.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"tournament_id": tournamentID,
		"arena_id":      arena.ID,
		"duels_created": created,
	})
}

// ListEntrants handles GET /tournaments/:id/entrants
func (s *PairingService) ListEntrants(c *fiber.Ctx) error {
	var entrants []models.Entrant
	if err := s.DB.Where("tournament_id = ?", c.Params("id")).
		Order("joined_at ASC").
		Find(&entrants).Error; err != nil {
		log.Printf("DB Error listing entrants for %s: %v", c.Params("id"), err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{
		"tournament_id": c.Params("id"),
		"entrants":      entrants,
		"count":         len(entrants),
	})
}
