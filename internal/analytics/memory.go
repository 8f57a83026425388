package analytics

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	originalURL string
	hourly      map[int64]int64
	visitors    map[string]struct{}
	devices     map[string]int64
	referrers   map[string]int64
}

// MemoryStore keeps analytics in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store that uses the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store whose windows end at now().
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry), now: now}
}

// Record implements Recorder.
func (s *MemoryStore) Record(ctx context.Context, rec AccessRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[rec.ShortCode]
	if !ok {
		e = &memoryEntry{
			hourly:    make(map[int64]int64),
			visitors:  make(map[string]struct{}),
			devices:   make(map[string]int64),
			referrers: make(map[string]int64),
		}
		s.entries[rec.ShortCode] = e
	}
	if rec.OriginalURL != "" {
		e.originalURL = rec.OriginalURL
	}
	e.hourly[hourStart(at).Unix()]++
	if rec.IPAddress != "" {
		e.visitors[rec.IPAddress] = struct{}{}
	}
	e.devices[deviceKey(rec.Device)]++
	if host := referrerHost(rec.Referrer); host != "" {
		e.referrers[host]++
	}
	return nil
}

// GetSummary implements Source.
func (s *MemoryStore) GetSummary(ctx context.Context, code string, start, end time.Time) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &Summary{ShortCode: code, Buckets: []Bucket{}}
	e, ok := s.entries[code]
	if !ok {
		return summary, nil
	}

	for hour, count := range e.hourly {
		t := time.Unix(hour, 0).UTC()
		if (!start.IsZero() && t.Before(hourStart(start))) || (!end.IsZero() && !t.Before(end)) {
			continue
		}
		summary.Buckets = append(summary.Buckets, Bucket{Start: t, Count: count})
		summary.TotalAccesses += count
	}
	sort.Slice(summary.Buckets, func(i, j int) bool {
		return summary.Buckets[i].Start.Before(summary.Buckets[j].Start)
	})

	summary.UniqueVisitors = int64(len(e.visitors))
	summary.Devices = copyCounts(e.devices)
	summary.Referrers = copyCounts(e.referrers)
	return summary, nil
}

// GetTrendingURLs implements Source.
func (s *MemoryStore) GetTrendingURLs(ctx context.Context, count int, window time.Duration) ([]TrendingURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := hourStart(s.now()).Add(time.Hour)
	start := end.Add(-window)
	mid := end.Add(-window / 2)

	s.mu.RLock()
	out := make([]TrendingURL, 0, len(s.entries))
	for code, e := range s.entries {
		var total, recent int64
		for hour, n := range e.hourly {
			t := time.Unix(hour, 0).UTC()
			if t.Before(start) || !t.Before(end) {
				continue
			}
			total += n
			if !t.Before(mid) {
				recent += n
			}
		}
		if total == 0 {
			continue
		}
		out = append(out, TrendingURL{
			ShortCode:   code,
			OriginalURL: e.originalURL,
			AccessCount: total,
			TrendScore:  trendScore(recent, total),
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].ShortCode < out[j].ShortCode
	})
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func referrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return "direct"
	}
	return u.Host
}
