package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thromel/URLShortener-sub000/internal/database"
)

// ===========================================
// Redis Key Layout
// ===========================================
//
//   analytics:hourly:{code}      HASH  unix-hour → count
//   analytics:trending:{hour}    ZSET  code → count within that hour
//   analytics:visitors:{code}    HLL   distinct IPs
//   analytics:devices:{code}     HASH  device type → count
//   analytics:referrers:{code}   HASH  referrer host → count
//   analytics:urls               HASH  code → original URL
//
// Trending over a window = ZUNION of the hourly sorted sets.

const urlsKey = "analytics:urls"

func hourlyKey(code string) string    { return "analytics:hourly:" + code }
func visitorsKey(code string) string  { return "analytics:visitors:" + code }
func devicesKey(code string) string   { return "analytics:devices:" + code }
func referrersKey(code string) string { return "analytics:referrers:" + code }
func trendingKey(hour time.Time) string {
	return fmt.Sprintf("analytics:trending:%d", hour.Unix())
}

// RedisStore keeps analytics in Redis so every instance sees them.
type RedisStore struct {
	redis  *database.RedisDB
	retain time.Duration
	now    func() time.Time
}

// NewRedisStore creates a store. Buckets older than retain expire.
func NewRedisStore(redis *database.RedisDB, retain time.Duration) *RedisStore {
	if retain <= 0 {
		retain = 30 * 24 * time.Hour
	}
	return &RedisStore{redis: redis, retain: retain, now: time.Now}
}

// Record implements Recorder.
func (s *RedisStore) Record(ctx context.Context, rec AccessRecord) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	hour := hourStart(at)
	field := strconv.FormatInt(hour.Unix(), 10)

	pipe := s.redis.Client.TxPipeline()
	pipe.HIncrBy(ctx, hourlyKey(rec.ShortCode), field, 1)
	pipe.Expire(ctx, hourlyKey(rec.ShortCode), s.retain)
	pipe.ZIncrBy(ctx, trendingKey(hour), 1, rec.ShortCode)
	pipe.Expire(ctx, trendingKey(hour), s.retain)
	pipe.HIncrBy(ctx, devicesKey(rec.ShortCode), deviceKey(rec.Device), 1)
	if rec.IPAddress != "" {
		pipe.PFAdd(ctx, visitorsKey(rec.ShortCode), rec.IPAddress)
	}
	if host := referrerHost(rec.Referrer); host != "" {
		pipe.HIncrBy(ctx, referrersKey(rec.ShortCode), host, 1)
	}
	if rec.OriginalURL != "" {
		pipe.HSet(ctx, urlsKey, rec.ShortCode, rec.OriginalURL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record access for %s: %w", rec.ShortCode, err)
	}
	return nil
}

// GetSummary implements Source.
func (s *RedisStore) GetSummary(ctx context.Context, code string, start, end time.Time) (*Summary, error) {
	pipe := s.redis.Client.Pipeline()
	hourlyCmd := pipe.HGetAll(ctx, hourlyKey(code))
	visitorsCmd := pipe.PFCount(ctx, visitorsKey(code))
	devicesCmd := pipe.HGetAll(ctx, devicesKey(code))
	referrersCmd := pipe.HGetAll(ctx, referrersKey(code))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("summary for %s: %w", code, err)
	}

	summary := &Summary{
		ShortCode:      code,
		Buckets:        []Bucket{},
		UniqueVisitors: visitorsCmd.Val(),
		Devices:        parseCounts(devicesCmd.Val()),
		Referrers:      parseCounts(referrersCmd.Val()),
	}

	for field, raw := range hourlyCmd.Val() {
		unix, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		t := time.Unix(unix, 0).UTC()
		if (!start.IsZero() && t.Before(hourStart(start))) || (!end.IsZero() && !t.Before(end)) {
			continue
		}
		summary.Buckets = append(summary.Buckets, Bucket{Start: t, Count: count})
		summary.TotalAccesses += count
	}
	sort.Slice(summary.Buckets, func(i, j int) bool {
		return summary.Buckets[i].Start.Before(summary.Buckets[j].Start)
	})
	return summary, nil
}

// GetTrendingURLs implements Source.
func (s *RedisStore) GetTrendingURLs(ctx context.Context, count int, window time.Duration) ([]TrendingURL, error) {
	hours := int(window / time.Hour)
	if hours < 1 {
		hours = 1
	}
	current := hourStart(s.now())

	keys := make([]string, hours)
	for i := 0; i < hours; i++ {
		keys[i] = trendingKey(current.Add(-time.Duration(i) * time.Hour))
	}
	recentKeys := keys[:max(1, hours/2)]

	totals, err := s.redis.Client.ZUnionWithScores(ctx, redis.ZStore{Keys: keys}).Result()
	if err != nil {
		return nil, fmt.Errorf("trending union: %w", err)
	}
	if len(totals) == 0 {
		return []TrendingURL{}, nil
	}
	recent, err := s.redis.Client.ZUnionWithScores(ctx, redis.ZStore{Keys: recentKeys}).Result()
	if err != nil {
		return nil, fmt.Errorf("trending recent union: %w", err)
	}

	recentByCode := make(map[string]int64, len(recent))
	for _, z := range recent {
		recentByCode[fmt.Sprint(z.Member)] = int64(z.Score)
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Score != totals[j].Score {
			return totals[i].Score > totals[j].Score
		}
		return fmt.Sprint(totals[i].Member) < fmt.Sprint(totals[j].Member)
	})
	if count > 0 && len(totals) > count {
		totals = totals[:count]
	}

	codes := make([]string, len(totals))
	for i, z := range totals {
		codes[i] = fmt.Sprint(z.Member)
	}
	urls, err := s.redis.Client.HMGet(ctx, urlsKey, codes...).Result()
	if err != nil {
		return nil, fmt.Errorf("trending urls: %w", err)
	}

	out := make([]TrendingURL, len(totals))
	for i, z := range totals {
		total := int64(z.Score)
		out[i] = TrendingURL{
			ShortCode:   codes[i],
			AccessCount: total,
			TrendScore:  trendScore(recentByCode[codes[i]], total),
		}
		if u, ok := urls[i].(string); ok {
			out[i].OriginalURL = u
		}
	}
	return out, nil
}

func parseCounts(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}
