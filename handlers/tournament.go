package handlers

import (
	"math-duel-system/middleware"
	"math-duel-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService, pairingService *services.PairingService, authClient *services.AuthServiceClient) {
	auth := middleware.UserContextMiddleware()

	// 🔓 Public reads
	app.Get("/tournaments/open", tournamentService.GetOpenTournaments)
	app.Get("/tournaments/:id", tournamentService.GetTournament)
	app.Get("/tournaments/:id/entrants", pairingService.ListEntrants)

	// Lobby SSE stream (EventSource can't set headers → query-param auth)
	app.Get("/tournaments/:id/lobby/stream",
		middleware.SSEAuthMiddleware(authClient), pairingService.StreamLobbySSE)

	// 🔐 Lobby membership + pairing trigger
	app.Post("/tournaments/:id/join", auth, pairingService.JoinTournament)
	app.Post("/tournaments/:id/withdraw", auth, pairingService.WithdrawFromTournament)
	app.Post("/tournaments/:id/pair", auth, pairingService.TriggerPairing)

	// 🔐 Tournament management (Admin/Manager)
	app.Post("/tournaments", auth, tournamentService.CreateTournament)
	app.Delete("/tournaments/:id", auth, tournamentService.DeleteTournament)
	app.Post("/tournaments/:id/publish/now", auth, tournamentService.PublishNow)
	app.Post("/tournaments/:id/publish/schedule", auth, tournamentService.SchedulePublish)
	app.Post("/tournaments/:id/publish/cancel", auth, tournamentService.CancelScheduledPublish)
	app.Post("/tournaments/:id/close", auth, tournamentService.CloseTournament)
}
