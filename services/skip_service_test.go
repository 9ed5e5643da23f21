package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipDateKeyUsesUTCDay(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC
	loc := time.FixedZone("UTC-5", -5*60*60)
	local := time.Date(2026, 3, 9, 23, 30, 0, 0, loc)
	assert.Equal(t, "2026-03-10", SkipDateKey(local))

	utc := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-09", SkipDateKey(utc))
}

func TestRecordSkipUpToQuota(t *testing.T) {
	db := testDB(t)
	svc := NewSkipService(db)
	ctx := context.Background()
	day := SkipDateKey(time.Now())

	for i := 1; i <= MaxSkipsPerDay; i++ {
		count, err := svc.RecordSkip(ctx, "user-a", "algebra", day)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	// Fourth skip is rejected and the counter does not move
	count, err := svc.RecordSkip(ctx, "user-a", "algebra", day)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, MaxSkipsPerDay, count)

	quota, err := svc.GetQuota(ctx, "user-a", "algebra", day)
	require.NoError(t, err)
	assert.Equal(t, MaxSkipsPerDay, quota.SkipCount)
	assert.False(t, quota.CanSkip)
	assert.Equal(t, 0, quota.Remaining)
}

func TestSkipQuotaIsPerCategoryAndPerDay(t *testing.T) {
	db := testDB(t)
	svc := NewSkipService(db)
	ctx := context.Background()

	for i := 0; i < MaxSkipsPerDay; i++ {
		_, err := svc.RecordSkip(ctx, "user-b", "algebra", "2026-03-09")
		require.NoError(t, err)
	}
	_, err := svc.RecordSkip(ctx, "user-b", "algebra", "2026-03-09")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// A different category has its own counter
	count, err := svc.RecordSkip(ctx, "user-b", "geometry", "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The next day the counter starts over
	count, err = svc.RecordSkip(ctx, "user-b", "algebra", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordSkipConcurrentNeverOvershoots(t *testing.T) {
	db := testDB(t)
	svc := NewSkipService(db)
	ctx := context.Background()
	day := SkipDateKey(time.Now())

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSkip(ctx, "user-c", "algebra", day)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for err := range results {
		if err == nil {
			granted++
		} else {
			require.ErrorIs(t, err, ErrQuotaExceeded)
		}
	}
	assert.Equal(t, MaxSkipsPerDay, granted)

	quota, err := svc.GetQuota(ctx, "user-c", "algebra", day)
	require.NoError(t, err)
	assert.Equal(t, MaxSkipsPerDay, quota.SkipCount)
}

func TestGetQuotaForFreshUser(t *testing.T) {
	db := testDB(t)
	svc := NewSkipService(db)

	quota, err := svc.GetQuota(context.Background(), "fresh", "algebra", SkipDateKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, quota.SkipCount)
	assert.True(t, quota.CanSkip)
	assert.Equal(t, MaxSkipsPerDay, quota.Remaining)
}
