// ===========================================
// Package bloom - Short Code Existence Filter
// ===========================================
// A Bloom filter answers "have we ever seen this code?" in memory.
//
//   false → the code was definitely never added (skip the database)
//   true  → the code was probably added (check the database)
//
// SIZING (n = expected items, p = target false positive rate):
//   m = ceil(-n·ln(p) / ln(2)²)   bits
//   k = ceil((m/n)·ln(2))         hash functions
//
// With n = 1,000,000 and p = 0.01: m ≈ 9.6M bits (~1.2 MB), k = 7.
//
// Bits are never cleared. Removing a code means rebuilding the filter.
// ===========================================

package bloom

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Defaults used when the caller passes zero values.
const (
	DefaultExpectedItems     = 1_000_000
	DefaultFalsePositiveRate = 0.01
)

// ErrInvalidParameters is returned for unusable sizing inputs.
var ErrInvalidParameters = errors.New("bloom: expected items must be positive and false positive rate in (0, 1)")

// Filter is a fixed-size Bloom filter safe for concurrent use.
type Filter struct {
	mu   sync.RWMutex
	bits []uint64
	m    uint64
	k    uint64

	items   atomic.Int64
	checks  atomic.Int64
	skipped atomic.Int64
}

// Stats is a point-in-time view of the filter.
type Stats struct {
	Bits                       uint64  `json:"bits"`
	HashFunctions              uint64  `json:"hash_functions"`
	Items                      int64   `json:"items"`
	Checks                     int64   `json:"checks"`
	QueriesSaved               int64   `json:"queries_saved"`
	EstimatedFalsePositiveRate float64 `json:"estimated_false_positive_rate"`
}

// New sizes a filter for n items at false positive rate p.
func New(n int, p float64) (*Filter, error) {
	if n == 0 {
		n = DefaultExpectedItems
	}
	if p == 0 {
		p = DefaultFalsePositiveRate
	}
	if n < 0 || p <= 0 || p >= 1 {
		return nil, ErrInvalidParameters
	}

	m, k := OptimalParameters(n, p)
	return &Filter{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}, nil
}

// OptimalParameters returns the bit count m and hash count k for
// n items at false positive rate p.
func OptimalParameters(n int, p float64) (m, k uint64) {
	fn := float64(n)
	m = uint64(math.Ceil(-fn * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k = uint64(math.Ceil(float64(m) / fn * math.Ln2))
	if k == 0 {
		k = 1
	}
	return m, k
}

// Add records key. There is no way to remove it again.
func (f *Filter) Add(key string) {
	h1, h2 := baseHashes(key)

	f.mu.Lock()
	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		f.bits[idx/64] |= 1 << (idx % 64)
	}
	f.mu.Unlock()

	f.items.Add(1)
}

// MightExist reports whether key may have been added. A false result
// is authoritative and counts as a saved query.
func (f *Filter) MightExist(key string) bool {
	h1, h2 := baseHashes(key)
	f.checks.Add(1)

	f.mu.RLock()
	defer f.mu.RUnlock()

	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			f.skipped.Add(1)
			return false
		}
	}
	return true
}

// Initialize bulk-loads keys that already exist in durable storage.
func (f *Filter) Initialize(keys []string) {
	for _, key := range keys {
		f.Add(key)
	}
}

// InitializeFrom loads keys from an iterator such as a repository
// scan, stopping early if ctx is cancelled.
func (f *Filter) InitializeFrom(ctx context.Context, each func(ctx context.Context, fn func(key string) error) error) (int, error) {
	loaded := 0
	err := each(ctx, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.Add(key)
		loaded++
		return nil
	})
	return loaded, err
}

// EstimatedFalsePositiveRate is (1 − e^(−kn/m))^k for the current n.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	n := float64(f.items.Load())
	k := float64(f.k)
	return math.Pow(1-math.Exp(-k*n/float64(f.m)), k)
}

// Stats returns the filter's counters.
func (f *Filter) Stats() Stats {
	return Stats{
		Bits:                       f.m,
		HashFunctions:              f.k,
		Items:                      f.items.Load(),
		Checks:                     f.checks.Load(),
		QueriesSaved:               f.skipped.Load(),
		EstimatedFalsePositiveRate: f.EstimatedFalsePositiveRate(),
	}
}

// baseHashes splits one 64-bit xxhash of the key into the two
// 32-bit hashes used for double hashing. h2 is forced odd so the
// probe sequence never collapses onto a single bit.
func baseHashes(key string) (uint64, uint64) {
	sum := xxhash.Sum64String(key)
	h1 := sum & 0xffffffff
	h2 := (sum >> 32) | 1
	return h1, h2
}
