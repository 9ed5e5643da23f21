// workers/leaderboard_cache_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"math-duel-system/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// LeaderboardCacheKey is the sorted set read-side consumers use for
// rating rankings.
const LeaderboardCacheKey = "leaderboard:rating"

// LeaderboardCacheClient rebuilds the cached rating leaderboard from the
// user_ratings table. Rating writes invalidate the cache; this worker
// repopulates it, so readers see at worst a stale-by-one-interval view.
type LeaderboardCacheClient struct {
	DB    *gorm.DB
	Cache *redis.Client
}

func NewLeaderboardCacheClient(db *gorm.DB, cache *redis.Client) *LeaderboardCacheClient {
	return &LeaderboardCacheClient{DB: db, Cache: cache}
}

// PollLeaderboard rebuilds the leaderboard ZSET on a fixed interval.
func PollLeaderboard(ctx context.Context, client *LeaderboardCacheClient, pollInterval time.Duration) {
	log.Println("Starting leaderboard cache polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Leaderboard cache polling stopped.")
			return
		case <-ticker.C:
			if err := client.Rebuild(ctx); err != nil {
				log.Printf("❌ Leaderboard cache rebuild failed: %v", err)
			}
		}
	}
}

// Rebuild replaces the cached ZSET with the current rating rows. The
// swap happens through a temp key + RENAME so readers never observe a
// half-built leaderboard.
func (c *LeaderboardCacheClient) Rebuild(ctx context.Context) error {
	var rows []models.UserRating
	if err := c.DB.WithContext(ctx).
		Order("rating DESC").
		Limit(1000).
		Find(&rows).Error; err != nil {
		return err
	}

	tmpKey := LeaderboardCacheKey + ":rebuild"
	pipe := c.Cache.TxPipeline()
	pipe.Del(ctx, tmpKey)
	if len(rows) > 0 {
		members := make([]redis.Z, 0, len(rows))
		for _, r := range rows {
			members = append(members, redis.Z{
				Score:  float64(r.Rating),
				Member: r.ExternalUserID,
			})
		}
		pipe.ZAdd(ctx, tmpKey, members...)
		pipe.Rename(ctx, tmpKey, LeaderboardCacheKey)
	} else {
		pipe.Del(ctx, LeaderboardCacheKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	log.Printf("🏆 Leaderboard cache rebuilt with %d entry(s).", len(rows))
	return nil
}
