package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"math-duel-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StreamLobbySSE streams pairing updates for the authenticated entrant
// in a tournament lobby. The client keeps the stream open while it sits
// in the lobby; when the pairing sweep assigns a duel the stream emits a
// `paired` event carrying it, and an `eliminated` event when the entrant
// drops out. Convenience only — the polling trigger stays authoritative.
func (s *PairingService) StreamLobbySSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return respondError(c, ErrUnauthenticated)
	}
	tournamentID := c.Params("id")

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastStatus string
		var lastDuelID string

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var entrant models.Entrant
				err := s.DB.
					Where("tournament_id = ? AND external_user_id = ?", tournamentID, userID).
					Order("joined_at DESC").
					First(&entrant).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				if err != nil {
					log.Printf("SSE query error for user %s: %v", userID, err)
					continue
				}

				duelID := ""
				if entrant.DuelID != nil {
					duelID = *entrant.DuelID
				}
				if entrant.Status == lastStatus && duelID == lastDuelID {
					continue
				}
				lastStatus, lastDuelID = entrant.Status, duelID

				switch entrant.Status {
				case models.EntrantStatusPaired:
					var duel models.Duel
					if entrant.DuelID == nil {
						continue
					}
					if err := s.DB.First(&duel, "id = ?", *entrant.DuelID).Error; err != nil {
						log.Printf("SSE duel lookup error for user %s: %v", userID, err)
						continue
					}
					payload, _ := json.Marshal(duel)
					fmt.Fprintf(w, "event: paired\ndata: %s\n\n", payload)
				case models.EntrantStatusEliminated:
					payload, _ := json.Marshal(entrant)
					fmt.Fprintf(w, "event: eliminated\ndata: %s\n\n", payload)
				default:
					continue
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
