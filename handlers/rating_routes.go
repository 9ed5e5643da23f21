package handlers

import (
	"math-duel-system/middleware"
	"math-duel-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRatingRoutes(app *fiber.App, ratingService *services.RatingService, skipService *services.SkipService) {
	auth := middleware.UserContextMiddleware()

	// 🔐 /users/me/rating goes first so the :user_id wildcard below
	// never swallows "me"
	app.Get("/users/me/rating", auth, ratingService.GetMyRating)

	// 🔓 Ratings are public reads
	app.Get("/users/:user_id/rating", ratingService.GetUserRating)

	// Daily skip quota
	app.Get("/categories/:category_id/skips/quota", auth, skipService.GetSkipQuota)
	app.Post("/categories/:category_id/skips", auth, skipService.RecordSkipHandler)
}
