package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"math-duel-system/handlers"
	"math-duel-system/middleware"
	"math-duel-system/models"
	"math-duel-system/services"
	"math-duel-system/utils"
	"math-duel-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // 20MB, banners only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Category{},
		&models.Tournament{},
		&models.Arena{},
		&models.Entrant{},
		&models.Duel{},
		&models.UserRating{},
		&models.DailySkip{},
		&models.PlatformUser{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cache := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ratingService := services.NewRatingService(db, cache)
	skipService := services.NewSkipService(db)
	duelService := services.NewDuelService(db, ratingService)
	pairingService := services.NewPairingService(db)
	tournamentService := services.NewTournamentService(db)

	// --- CONFIGURE Sync + Auth Service Details ---
	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	duelServiceToken := os.Getenv("DUEL_SERVICE_TOKEN")
	if duelServiceToken == "" {
		log.Fatal("DUEL_SERVICE_TOKEN environment variable not set")
	}
	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	// --- END CONFIG ---

	authClient := services.NewAuthServiceClient(authServiceURL, duelServiceToken)

	syncWorker := workers.NewUserSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", duelServiceToken)

	leaderboardClient := workers.NewLeaderboardCacheClient(db, cache)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollLeaderboard(ctx, leaderboardClient, 30*time.Second)

	go func() {
		log.Println("Starting Platform User Sync Worker...")
		syncWorker.Start(ctx)
	}()

	pairingService.StartSweepScheduler(ctx)
	tournamentService.StartLifecycleScheduler()

	// ✅ Setup routes — now with enforced Gateway auth
	handlers.SetupTournamentRoutes(app, tournamentService, pairingService, authClient)
	handlers.SetupDuelRoutes(app, duelService)
	handlers.SetupRatingRoutes(app, ratingService, skipService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Platform User Sync Worker running")
	log.Println("✅ Leaderboard cache polling running (every 30s)")
	log.Println("✅ Arena pairing sweep running (every 3s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
