package handlers

import (
	"net/http/httptest"
	"os"
	"testing"

	"math-duel-system/models"
	"math-duel-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestApp wires every route group the way main does and returns the
// app backed by the TEST_DATABASE_URL database. Skipped when unset.
func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Category{},
		&models.Tournament{},
		&models.Arena{},
		&models.Entrant{},
		&models.Duel{},
		&models.UserRating{},
		&models.DailySkip{},
		&models.PlatformUser{},
	))

	ratingService := services.NewRatingService(db, nil)
	skipService := services.NewSkipService(db)
	duelService := services.NewDuelService(db, ratingService)
	pairingService := services.NewPairingService(db)
	tournamentService := services.NewTournamentService(db)
	authClient := services.NewAuthServiceClient("http://localhost:0", "test-token")

	app := fiber.New()
	SetupTournamentRoutes(app, tournamentService, pairingService, authClient)
	SetupDuelRoutes(app, duelService)
	SetupRatingRoutes(app, ratingService, skipService)
	return app
}

func TestPublicReadsNeedNoUserContext(t *testing.T) {
	app := newTestApp(t)

	// Rating reads are public for leaderboards and scouting
	resp, err := app.Test(httptest.NewRequest("GET", "/users/user-123/rating", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/tournaments/open", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSecuredRoutesRejectAnonymous(t *testing.T) {
	app := newTestApp(t)

	for _, route := range []struct{ method, path string }{
		{"POST", "/duels"},
		{"GET", "/users/me/duels"},
		{"GET", "/users/me/rating"},
		{"POST", "/tournaments/some-id/join"},
		{"POST", "/categories/algebra/skips"},
	} {
		resp, err := app.Test(httptest.NewRequest(route.method, route.path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode,
			"%s %s should require user context", route.method, route.path)
	}
}

func TestMeRatingResolvesActingUser(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("GET", "/users/me/rating", nil)
	req.Header.Set("X-User-ID", "user-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
