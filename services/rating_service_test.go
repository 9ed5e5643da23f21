package services

import (
	"context"
	"sync"
	"testing"

	"math-duel-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDelta(t *testing.T) {
	tests := []struct {
		name       string
		difficulty int
		correct    bool
		want       int
	}{
		{"difficulty 1 correct", 1, true, 17},
		{"difficulty 1 incorrect", 1, false, -13},
		{"difficulty 5 correct", 5, true, 45},
		{"difficulty 5 incorrect", 5, false, -36},
		{"difficulty 6 correct", 6, true, 52},
		{"difficulty 6 incorrect", 6, false, -41},
		{"difficulty 10 correct", 10, true, 80},
		{"difficulty 10 incorrect", 10, false, -64},
		{"out of range low clamps to 1", 0, true, 17},
		{"out of range high clamps to 10", 99, false, -64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDelta(tt.difficulty, tt.correct))
		})
	}
}

func TestClampDifficulty(t *testing.T) {
	assert.Equal(t, 1, ClampDifficulty(-3))
	assert.Equal(t, 1, ClampDifficulty(1))
	assert.Equal(t, 7, ClampDifficulty(7))
	assert.Equal(t, 10, ClampDifficulty(10))
	assert.Equal(t, 10, ClampDifficulty(200))
}

func TestApplyDeltaCreatesRowWithDefaults(t *testing.T) {
	db := testDB(t)
	svc := NewRatingService(db, nil)
	ctx := context.Background()

	row, err := svc.ApplyDelta(ctx, "user-a", 45, 45, 1)
	require.NoError(t, err)
	assert.Equal(t, 1045, row.Rating) // 1000 default + 45
	assert.Equal(t, int64(45), row.TotalPoints)
	assert.Equal(t, int64(1), row.ProblemsSolved)

	// Second delta updates the same row
	row, err = svc.ApplyDelta(ctx, "user-a", -36, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1009, row.Rating)
	assert.Equal(t, int64(45), row.TotalPoints)
	assert.Equal(t, int64(1), row.ProblemsSolved)
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	db := testDB(t)
	svc := NewRatingService(db, nil)
	ctx := context.Background()

	// Drive the rating to zero and keep losing
	_, err := svc.ApplyDelta(ctx, "user-b", -995, 0, 0)
	require.NoError(t, err)
	row, err := svc.ApplyDelta(ctx, "user-b", -64, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, row.Rating)

	// Negative point deltas never reduce cumulative points
	row, err = svc.ApplyDelta(ctx, "user-b", 17, -100, 0)
	require.NoError(t, err)
	assert.Equal(t, 17, row.Rating)
	assert.Equal(t, int64(0), row.TotalPoints)
}

func TestApplyDeltaConcurrentBothLand(t *testing.T) {
	db := testDB(t)
	svc := NewRatingService(db, nil)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyDelta(ctx, "user-c", 10, 10, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	row, err := svc.GetRating(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, 1000+workers*10, row.Rating)
	assert.Equal(t, int64(workers*10), row.TotalPoints)
	assert.Equal(t, int64(workers), row.ProblemsSolved)
}

func TestGetRatingReturnsDefaultsForUnknownUser(t *testing.T) {
	db := testDB(t)
	svc := NewRatingService(db, nil)

	row, err := svc.GetRating(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, row.Rating)
	assert.Equal(t, int64(0), row.TotalPoints)
	assert.Equal(t, int64(0), row.ProblemsSolved)
}
