//go:build integration

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thromel/URLShortener-sub000/internal/domain"
	"github.com/thromel/URLShortener-sub000/internal/testutils"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	env := testutils.SetupTestEnvironment(t)
	env.Reset(t)

	store := NewRedisStore(env.Redis, time.Hour)
	store.now = func() time.Time { return testNow }

	record := func(code string, when time.Time, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, store.Record(ctx, AccessRecord{
				ShortCode:   code,
				OriginalURL: "https://example.com/" + code,
				At:          when,
				IPAddress:   "10.0.0.1",
				Referrer:    "https://news.example.org/x",
				Device:      domain.DeviceInfo{DeviceType: "mobile"},
			}))
		}
	}
	record("a", at(14, 15, 0), 3)
	record("a", at(13, 22, 0), 1)
	record("b", at(13, 23, 0), 2)
	record("c", at(12, 12, 0), 50)

	t.Run("trending", func(t *testing.T) {
		got, err := store.GetTrendingURLs(ctx, 10, 24*time.Hour)
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "a", got[0].ShortCode)
		assert.Equal(t, "https://example.com/a", got[0].OriginalURL)
		assert.Equal(t, int64(4), got[0].AccessCount)
		assert.InDelta(t, 0.5, got[0].TrendScore, 1e-9)
		assert.Equal(t, "b", got[1].ShortCode)
	})

	t.Run("summary", func(t *testing.T) {
		s, err := store.GetSummary(ctx, "a", time.Time{}, time.Time{})
		require.NoError(t, err)

		assert.Equal(t, int64(4), s.TotalAccesses)
		assert.Equal(t, int64(1), s.UniqueVisitors)
		assert.Equal(t, []Bucket{
			{Start: at(13, 22, 0), Count: 1},
			{Start: at(14, 15, 0), Count: 3},
		}, s.Buckets)
		assert.Equal(t, map[string]int64{"mobile": 4}, s.Devices)
		assert.Equal(t, map[string]int64{"news.example.org": 4}, s.Referrers)
	})

	t.Run("unknown code", func(t *testing.T) {
		s, err := store.GetSummary(ctx, "nope", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Zero(t, s.TotalAccesses)
	})
}
