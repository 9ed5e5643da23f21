package handlers

import (
	"math-duel-system/middleware"
	"math-duel-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupDuelRoutes(app *fiber.App, duelService *services.DuelService) {
	// 🔐 All duel routes require user context. The middleware rides on
	// each route instead of a catch-all Use so routes registered
	// elsewhere keep their own auth rules.
	auth := middleware.UserContextMiddleware()

	app.Post("/duels", auth, duelService.CreateDuel)
	app.Get("/duels/:id", auth, duelService.GetDuel)
	app.Get("/users/me/duels", auth, duelService.ListMyDuels)

	// Lifecycle transitions
	app.Post("/duels/:id/accept", auth, duelService.AcceptDuel)
	app.Post("/duels/:id/cancel", auth, duelService.CancelDuel)
	app.Post("/duels/:id/complete", auth, duelService.CompleteDuel)
}
