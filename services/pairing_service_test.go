package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"math-duel-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBuildPairs(t *testing.T) {
	mk := func(n int) []models.Entrant {
		entrants := make([]models.Entrant, n)
		for i := range entrants {
			entrants[i] = models.Entrant{ID: fmt.Sprintf("e%d", i+1)}
		}
		return entrants
	}

	assert.Len(t, buildPairs(nil), 0)
	assert.Len(t, buildPairs(mk(1)), 0)

	pairs := buildPairs(mk(2))
	require.Len(t, pairs, 1)
	assert.Equal(t, "e1", pairs[0][0].ID)
	assert.Equal(t, "e2", pairs[0][1].ID)

	// Odd pool: the trailing entrant is left out
	pairs = buildPairs(mk(5))
	require.Len(t, pairs, 2)
	assert.Equal(t, "e1", pairs[0][0].ID)
	assert.Equal(t, "e2", pairs[0][1].ID)
	assert.Equal(t, "e3", pairs[1][0].ID)
	assert.Equal(t, "e4", pairs[1][1].ID)
}

// seedTournament creates an open tournament with one open arena.
func seedTournament(t *testing.T, db *gorm.DB, maxEntrants int) (*models.Tournament, *models.Arena) {
	t.Helper()
	tournament := models.Tournament{
		ID:          uuid.NewString(),
		Name:        "Test Cup",
		Slug:        "test-cup-" + uuid.NewString()[:8],
		CategoryID:  "algebra",
		Difficulty:  6,
		Status:      models.TournamentStatusOpen,
		MaxEntrants: maxEntrants,
		StartTime:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(&tournament).Error)
	arena := models.Arena{
		ID:           uuid.NewString(),
		TournamentID: tournament.ID,
		RoundNumber:  1,
		Status:       models.ArenaStatusOpen,
	}
	require.NoError(t, db.Create(&arena).Error)
	return &tournament, &arena
}

func seedEntrant(t *testing.T, db *gorm.DB, tournamentID, arenaID, userID string, joinedAt time.Time) *models.Entrant {
	t.Helper()
	entrant := models.Entrant{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		TournamentID:   tournamentID,
		ArenaID:        arenaID,
		JoinedAt:       joinedAt,
		Status:         models.EntrantStatusWaiting,
	}
	require.NoError(t, db.Create(&entrant).Error)
	return &entrant
}

func TestRunSweepPairsInJoinOrder(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, arena := seedTournament(t, db, 0)
	base := time.Now().UTC().Add(-time.Minute)
	for i, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		seedEntrant(t, db, tournament.ID, arena.ID, user, base.Add(time.Duration(i)*time.Second))
	}

	created, err := svc.RunSweep(ctx, arena.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var duels []models.Duel
	require.NoError(t, db.Where("arena_id = ?", arena.ID).Order("created_at ASC").Find(&duels).Error)
	require.Len(t, duels, 2)
	for _, duel := range duels {
		assert.Equal(t, models.DuelStatusActive, duel.Status)
		assert.Equal(t, tournament.CategoryID, duel.CategoryID)
		assert.Equal(t, tournament.Difficulty, duel.Difficulty)
		require.NotNil(t, duel.OpponentID)
	}

	// First-joined pair first
	assert.Equal(t, "u1", duels[0].ChallengerID)
	assert.Equal(t, "u2", *duels[0].OpponentID)

	// The odd entrant stays waiting
	var leftover models.Entrant
	require.NoError(t, db.Where("external_user_id = ?", "u5").First(&leftover).Error)
	assert.Equal(t, models.EntrantStatusWaiting, leftover.Status)
	assert.Nil(t, leftover.DuelID)

	var paired int64
	require.NoError(t, db.Model(&models.Entrant{}).
		Where("arena_id = ? AND status = ?", arena.ID, models.EntrantStatusPaired).
		Count(&paired).Error)
	assert.Equal(t, int64(4), paired)
}

func TestRunSweepIsIdempotent(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, arena := seedTournament(t, db, 0)
	now := time.Now().UTC()
	seedEntrant(t, db, tournament.ID, arena.ID, "u1", now)
	seedEntrant(t, db, tournament.ID, arena.ID, "u2", now.Add(time.Second))

	created, err := svc.RunSweep(ctx, arena.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Everyone is paired, so a second sweep is a no-op
	created, err = svc.RunSweep(ctx, arena.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	var duelCount int64
	require.NoError(t, db.Model(&models.Duel{}).Where("arena_id = ?", arena.ID).Count(&duelCount).Error)
	assert.Equal(t, int64(1), duelCount)
}

func TestConcurrentSweepsNeverDoublePair(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, arena := seedTournament(t, db, 0)
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		seedEntrant(t, db, tournament.ID, arena.ID, fmt.Sprintf("u%d", i+1), base.Add(time.Duration(i)*time.Second))
	}

	const sweepers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	errs := make(chan error, sweepers)
	for i := 0; i < sweepers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := svc.RunSweep(ctx, arena.ID)
			errs <- err
			mu.Lock()
			total += created
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 2, total)

	var duelCount int64
	require.NoError(t, db.Model(&models.Duel{}).Where("arena_id = ?", arena.ID).Count(&duelCount).Error)
	assert.Equal(t, int64(2), duelCount)

	// Every entrant is in exactly one duel
	var entrants []models.Entrant
	require.NoError(t, db.Where("arena_id = ?", arena.ID).Find(&entrants).Error)
	seen := map[string]int{}
	for _, e := range entrants {
		assert.Equal(t, models.EntrantStatusPaired, e.Status)
		require.NotNil(t, e.DuelID)
		seen[*e.DuelID]++
	}
	for duelID, n := range seen {
		assert.Equal(t, 2, n, "duel %s should hold exactly two entrants", duelID)
	}
}

func TestRunSweepSkipsClosedArena(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, arena := seedTournament(t, db, 0)
	require.NoError(t, db.Model(arena).Update("status", models.ArenaStatusClosed).Error)
	now := time.Now().UTC()
	seedEntrant(t, db, tournament.ID, arena.ID, "u1", now)
	seedEntrant(t, db, tournament.ID, arena.ID, "u2", now.Add(time.Second))

	created, err := svc.RunSweep(ctx, arena.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestJoinIsIdempotentPerTournament(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, _ := seedTournament(t, db, 0)

	first, err := svc.Join(ctx, tournament.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.EntrantStatusWaiting, first.Status)

	// A second join returns the existing entrant instead of a duplicate
	second, err := svc.Join(ctx, tournament.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Entrant{}).
		Where("tournament_id = ? AND external_user_id = ?", tournament.ID, "u1").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestJoinPairsImmediatelyWhenOpponentWaiting(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, _ := seedTournament(t, db, 0)

	_, err := svc.Join(ctx, tournament.ID, "u1")
	require.NoError(t, err)
	entrant, err := svc.Join(ctx, tournament.ID, "u2")
	require.NoError(t, err)

	// The second join triggers the sweep, pairing both on entry
	assert.Equal(t, models.EntrantStatusPaired, entrant.Status)
	require.NotNil(t, entrant.DuelID)

	var duel models.Duel
	require.NoError(t, db.First(&duel, "id = ?", *entrant.DuelID).Error)
	assert.Equal(t, models.DuelStatusActive, duel.Status)
	assert.Equal(t, "u1", duel.ChallengerID)
	require.NotNil(t, duel.OpponentID)
	assert.Equal(t, "u2", *duel.OpponentID)
}

func TestJoinRejectsClosedAndFullTournaments(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	closed, _ := seedTournament(t, db, 0)
	require.NoError(t, db.Model(closed).Update("status", models.TournamentStatusClosed).Error)
	_, err := svc.Join(ctx, closed.ID, "u1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	full, _ := seedTournament(t, db, 1)
	_, err = svc.Join(ctx, full.ID, "u1")
	require.NoError(t, err)
	_, err = svc.Join(ctx, full.ID, "u2")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Join(ctx, uuid.NewString(), "u1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Join(ctx, "not-a-uuid", "u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentJoinsNeverExceedCap(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, _ := seedTournament(t, db, 2)

	const joiners = 4
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		user := fmt.Sprintf("u%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Join(ctx, tournament.ID, user)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	admitted := 0
	for err := range errs {
		if err == nil {
			admitted++
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 2, admitted)

	var count int64
	require.NoError(t, db.Model(&models.Entrant{}).
		Where("tournament_id = ? AND status <> ?", tournament.ID, models.EntrantStatusEliminated).
		Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestWithdraw(t *testing.T) {
	db := testDB(t)
	svc := NewPairingService(db)
	ctx := context.Background()

	tournament, _ := seedTournament(t, db, 0)
	_, err := svc.Join(ctx, tournament.ID, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.Withdraw(ctx, tournament.ID, "u1"))

	var entrant models.Entrant
	require.NoError(t, db.Where("tournament_id = ? AND external_user_id = ?", tournament.ID, "u1").
		First(&entrant).Error)
	assert.Equal(t, models.EntrantStatusEliminated, entrant.Status)

	// Already eliminated: only the state error, no change
	err = svc.Withdraw(ctx, tournament.ID, "u1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = svc.Withdraw(ctx, tournament.ID, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}
