package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ===========================================
// Access Pattern Analyzer
// ===========================================
// Turns hourly access buckets into:
//
//   - a per-code Pattern (peaks, rates, trend, classification)
//   - a Tier per trending code, used by the warming loop
//
// Everything here is advisory. A failed analysis degrades to an
// empty Sporadic pattern instead of returning an error.
// ===========================================

// PatternType labels the shape of a code's traffic.
type PatternType string

const (
	PatternBusinessHours PatternType = "business_hours"
	PatternEvening       PatternType = "evening"
	PatternSteady        PatternType = "steady"
	PatternSporadic      PatternType = "sporadic"

	// Reserved. The classifier does not emit these yet.
	PatternViral     PatternType = "viral"
	PatternDeclining PatternType = "declining"
	PatternWeekend   PatternType = "weekend"
)

// TrendDirection is the sign of the normalized access slope.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendFlat    TrendDirection = "flat"
)

// Tier is a warming priority bucket.
type Tier string

const (
	TierHot    Tier = "hot"
	TierWarm   Tier = "warm"
	TierCold   Tier = "cold"
	TierFrozen Tier = "frozen"
)

// WarmedTiers lists the tiers the warming loop refreshes, hottest first.
func WarmedTiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold}
}

const (
	businessStart = 9
	businessEnd   = 17
	eveningStart  = 18
	eveningEnd    = 23

	businessShare = 0.6
	eveningShare  = 0.4
	steadyCV      = 0.3

	peakHourCount = 3
	peakDayCount  = 2

	trendEpsilon = 1e-3
)

// Pattern is the analysis of one short code.
type Pattern struct {
	ShortCode         string         `json:"short_code"`
	Type              PatternType    `json:"type"`
	PeakHours         []int          `json:"peak_hours"`
	PeakDays          []time.Weekday `json:"peak_days"`
	TotalAccesses     int64          `json:"total_accesses"`
	AverageHourlyRate float64        `json:"average_hourly_rate"`
	PeakHourlyRate    float64        `json:"peak_hourly_rate"`
	Trend             float64        `json:"trend"`
	Direction         TrendDirection `json:"direction"`
	Degraded          bool           `json:"degraded,omitempty"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
}

// Classification assigns a trending code to a tier.
type Classification struct {
	ShortCode   string  `json:"short_code"`
	OriginalURL string  `json:"original_url"`
	AccessCount int64   `json:"access_count"`
	TrendScore  float64 `json:"trend_score"`
	Tier        Tier    `json:"tier"`
}

// WarmingIntervals says how often each tier is refreshed and the base
// TTL written for warmed entries.
type WarmingIntervals struct {
	Hot        time.Duration `json:"hot"`
	Warm       time.Duration `json:"warm"`
	Cold       time.Duration `json:"cold"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// For returns the interval of a warmed tier. Frozen is never warmed.
func (w WarmingIntervals) For(t Tier) (time.Duration, bool) {
	switch t {
	case TierHot:
		return w.Hot, true
	case TierWarm:
		return w.Warm, true
	case TierCold:
		return w.Cold, true
	default:
		return 0, false
	}
}

// DefaultWarmingIntervals returns Hot 5m, Warm 15m, Cold 60m, TTL 2h.
func DefaultWarmingIntervals() WarmingIntervals {
	return WarmingIntervals{
		Hot:        5 * time.Minute,
		Warm:       15 * time.Minute,
		Cold:       60 * time.Minute,
		DefaultTTL: 2 * time.Hour,
	}
}

// AnalyzerConfig tunes the analyzer. Zero values take defaults.
type AnalyzerConfig struct {
	Window         time.Duration
	TrendingWindow time.Duration
	Location       *time.Location
	Intervals      WarmingIntervals
}

// Analyzer derives patterns and tiers from a Source.
type Analyzer struct {
	source Source
	cfg    AnalyzerConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer over source.
func NewAnalyzer(source Source, cfg AnalyzerConfig, log zerolog.Logger) *Analyzer {
	if cfg.Window < time.Hour {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.TrendingWindow <= 0 {
		cfg.TrendingWindow = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	defaults := DefaultWarmingIntervals()
	if cfg.Intervals.Hot <= 0 {
		cfg.Intervals.Hot = defaults.Hot
	}
	if cfg.Intervals.Warm <= 0 {
		cfg.Intervals.Warm = defaults.Warm
	}
	if cfg.Intervals.Cold <= 0 {
		cfg.Intervals.Cold = defaults.Cold
	}
	if cfg.Intervals.DefaultTTL <= 0 {
		cfg.Intervals.DefaultTTL = defaults.DefaultTTL
	}
	return &Analyzer{
		source: source,
		cfg:    cfg,
		log:    log.With().Str("component", "analyzer").Logger(),
		now:    time.Now,
	}
}

// AnalyzePattern analyzes the last Window of accesses for code.
func (a *Analyzer) AnalyzePattern(ctx context.Context, code string) Pattern {
	now := a.now()
	end := hourStart(now).Add(time.Hour)
	start := end.Add(-a.cfg.Window)

	summary, err := a.source.GetSummary(ctx, code, start, end)
	if err != nil {
		a.log.Warn().Err(err).Str("short_code", code).Msg("pattern analysis degraded")
		p := emptyPattern(code, now)
		p.Degraded = true
		return p
	}

	series := make([]float64, int(a.cfg.Window/time.Hour))
	var byHour [24]int64
	var byDay [7]int64
	var total int64
	for _, b := range summary.Buckets {
		idx := int(b.Start.Sub(start) / time.Hour)
		if idx < 0 || idx >= len(series) {
			continue
		}
		series[idx] += float64(b.Count)
		local := b.Start.In(a.cfg.Location)
		byHour[local.Hour()] += b.Count
		byDay[local.Weekday()] += b.Count
		total += b.Count
	}

	p := emptyPattern(code, now)
	if total == 0 {
		return p
	}

	p.TotalAccesses = total
	p.AverageHourlyRate = float64(total) / float64(len(series))
	for _, v := range series {
		p.PeakHourlyRate = math.Max(p.PeakHourlyRate, v)
	}
	p.PeakHours = topIndexes(byHour[:], peakHourCount)
	for _, d := range topIndexes(byDay[:], peakDayCount) {
		p.PeakDays = append(p.PeakDays, time.Weekday(d))
	}
	p.Trend = normalizedSlope(series, p.PeakHourlyRate)
	p.Direction = direction(p.Trend)
	p.Type = classifyPattern(byHour, total)
	return p
}

// ClassifyURLs tiers the top maxURLs trending codes by percentile of
// their access counts: >= p95 Hot, >= p80 Warm, >= p50 Cold, else Frozen.
func (a *Analyzer) ClassifyURLs(ctx context.Context, maxURLs int) ([]Classification, error) {
	trending, err := a.source.GetTrendingURLs(ctx, maxURLs, a.cfg.TrendingWindow)
	if err != nil {
		return nil, fmt.Errorf("classify urls: %w", err)
	}
	if len(trending) == 0 {
		return []Classification{}, nil
	}

	counts := make([]int64, len(trending))
	for i, t := range trending {
		counts[i] = t.AccessCount
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })

	p95 := percentile(counts, 0.95)
	p80 := percentile(counts, 0.80)
	p50 := percentile(counts, 0.50)

	out := make([]Classification, len(trending))
	for i, t := range trending {
		tier := TierFrozen
		switch {
		case t.AccessCount >= p95:
			tier = TierHot
		case t.AccessCount >= p80:
			tier = TierWarm
		case t.AccessCount >= p50:
			tier = TierCold
		}
		out[i] = Classification{
			ShortCode:   t.ShortCode,
			OriginalURL: t.OriginalURL,
			AccessCount: t.AccessCount,
			TrendScore:  t.TrendScore,
			Tier:        tier,
		}
	}
	return out, nil
}

// PredictNextPeak returns the soonest upcoming peak hour of code.
// ok is false when the code has no peak hours.
func (a *Analyzer) PredictNextPeak(ctx context.Context, code string) (time.Time, bool) {
	p := a.AnalyzePattern(ctx, code)
	if len(p.PeakHours) == 0 {
		return time.Time{}, false
	}

	now := a.now().In(a.cfg.Location)
	var next time.Time
	for _, h := range p.PeakHours {
		at := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, a.cfg.Location)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, true
}

// WarmingIntervals returns the tier refresh intervals.
func (a *Analyzer) WarmingIntervals() WarmingIntervals {
	return a.cfg.Intervals
}

func emptyPattern(code string, now time.Time) Pattern {
	return Pattern{
		ShortCode:  code,
		Type:       PatternSporadic,
		PeakHours:  []int{},
		PeakDays:   []time.Weekday{},
		Direction:  TrendFlat,
		AnalyzedAt: now,
	}
}

// classifyPattern applies the rules in order: business hours,
// evening, steady, sporadic.
func classifyPattern(byHour [24]int64, total int64) PatternType {
	var business, evening int64
	for h, n := range byHour {
		if h >= businessStart && h <= businessEnd {
			business += n
		}
		if h >= eveningStart && h <= eveningEnd {
			evening += n
		}
	}

	switch {
	case float64(business)/float64(total) >= businessShare:
		return PatternBusinessHours
	case float64(evening)/float64(total) >= eveningShare:
		return PatternEvening
	case coefficientOfVariation(byHour[:]) < steadyCV:
		return PatternSteady
	default:
		return PatternSporadic
	}
}

func coefficientOfVariation(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

// normalizedSlope is the least-squares slope of series divided by its
// peak, clamped to [-1, 1].
func normalizedSlope(series []float64, peak float64) float64 {
	n := float64(len(series))
	if n < 2 || peak <= 0 {
		return 0
	}
	meanX := (n - 1) / 2
	var meanY float64
	for _, y := range series {
		meanY += y
	}
	meanY /= n

	var num, den float64
	for i, y := range series {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, num/den/peak))
}

func direction(trend float64) TrendDirection {
	switch {
	case trend > trendEpsilon:
		return TrendRising
	case trend < -trendEpsilon:
		return TrendFalling
	default:
		return TrendFlat
	}
}

// topIndexes returns up to k indexes with the largest non-zero values,
// largest first. Ties keep the lower index.
func topIndexes(values []int64, k int) []int {
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if v > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(i, j int) bool { return values[idx[i]] > values[idx[j]] })
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}

// percentile uses the ceiling-indexed element of an ascending slice.
func percentile(sorted []int64, p float64) int64 {
	i := int(math.Ceil(p*float64(len(sorted))-1e-9)) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
