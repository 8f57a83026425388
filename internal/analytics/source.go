// Package analytics records accesses into time buckets and derives
// access patterns and warming tiers from them.
package analytics

import (
	"context"
	"time"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// TrendingURL is one entry of a trending query.
type TrendingURL struct {
	ShortCode   string  `json:"short_code"`
	OriginalURL string  `json:"original_url"`
	AccessCount int64   `json:"access_count"`
	TrendScore  float64 `json:"trend_score"`
}

// Bucket is the access count for one hour starting at Start.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// Summary aggregates the accesses of one code over a time range.
type Summary struct {
	ShortCode      string           `json:"short_code"`
	TotalAccesses  int64            `json:"total_accesses"`
	UniqueVisitors int64            `json:"unique_visitors"`
	Buckets        []Bucket         `json:"buckets"`
	Devices        map[string]int64 `json:"devices,omitempty"`
	Referrers      map[string]int64 `json:"referrers,omitempty"`
}

// AccessRecord is one access to feed into analytics.
type AccessRecord struct {
	ShortCode   string
	OriginalURL string
	At          time.Time
	IPAddress   string
	Referrer    string
	Device      domain.DeviceInfo
	Location    domain.Location
}

// Source answers analytics queries.
type Source interface {
	GetTrendingURLs(ctx context.Context, count int, window time.Duration) ([]TrendingURL, error)
	GetSummary(ctx context.Context, code string, start, end time.Time) (*Summary, error)
}

// Recorder accepts accesses.
type Recorder interface {
	Record(ctx context.Context, rec AccessRecord) error
}

// Store is both sides of analytics storage.
type Store interface {
	Source
	Recorder
}

// trendScore compares the recent half of a window with the whole:
// 1 means every access was recent, -1 means none was.
func trendScore(recent, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(2*recent-total) / float64(total)
}

func hourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func deviceKey(d domain.DeviceInfo) string {
	switch {
	case d.IsBot:
		return "bot"
	case d.DeviceType != "":
		return d.DeviceType
	default:
		return "unknown"
	}
}
