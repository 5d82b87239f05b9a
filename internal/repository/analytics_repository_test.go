package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplink/snaplink/internal/model"
)

func TestAnalyticsRepository_Apply(t *testing.T) {
	repo := NewAnalyticsRepository(testDB.Pool)
	ctx := context.Background()
	date := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	t.Run("creates the row on first merge", func(t *testing.T) {
		testDB.Cleanup(ctx)

		err := repo.Apply(ctx, "abc123", date, func(a *model.DailyAnalytics) {
			a.TotalVisitCount += 1
			a.BrowserVisitCounts = map[string]int64{"Chrome": 1}
			a.Country = "DE"
			a.LastAccessTime = date.Add(12 * time.Hour)
		})
		require.NoError(t, err)

		rows, err := repo.ListByCode(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0].TotalVisitCount)
		assert.Equal(t, int64(1), rows[0].BrowserVisitCounts["Chrome"])
		assert.Equal(t, "DE", rows[0].Country)
	})

	t.Run("merges into the existing row", func(t *testing.T) {
		testDB.Cleanup(ctx)

		for i := 0; i < 3; i++ {
			err := repo.Apply(ctx, "abc123", date, func(a *model.DailyAnalytics) {
				a.TotalVisitCount += 1
				if a.OSVisitCounts == nil {
					a.OSVisitCounts = map[string]int64{}
				}
				a.OSVisitCounts["Linux"] += 1
			})
			require.NoError(t, err)
		}

		rows, err := repo.ListByCode(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].TotalVisitCount)
		assert.Equal(t, int64(3), rows[0].OSVisitCounts["Linux"])
	})

	t.Run("separate rows per day", func(t *testing.T) {
		testDB.Cleanup(ctx)

		for _, d := range []time.Time{date, date.AddDate(0, 0, 1)} {
			err := repo.Apply(ctx, "abc123", d, func(a *model.DailyAnalytics) {
				a.TotalVisitCount += 1
			})
			require.NoError(t, err)
		}

		rows, err := repo.ListByCode(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		// Newest first.
		assert.True(t, rows[0].AccessDate.After(rows[1].AccessDate))
	})

	t.Run("concurrent merges do not lose counts", func(t *testing.T) {
		testDB.Cleanup(ctx)

		const workers = 8
		const perWorker = 5
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_ = repo.Apply(ctx, "abc123", date, func(a *model.DailyAnalytics) {
						a.TotalVisitCount += 1
					})
				}
			}()
		}
		wg.Wait()

		rows, err := repo.ListByCode(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(workers*perWorker), rows[0].TotalVisitCount)
	})

	t.Run("delete by code", func(t *testing.T) {
		testDB.Cleanup(ctx)

		err := repo.Apply(ctx, "abc123", date, func(a *model.DailyAnalytics) { a.TotalVisitCount += 1 })
		require.NoError(t, err)

		require.NoError(t, repo.DeleteByCode(ctx, "abc123"))
		rows, err := repo.ListByCode(ctx, "abc123")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
