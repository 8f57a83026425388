package bloom

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimalParameters(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		p     float64
		wantM uint64
		wantK uint64
	}{
		{"defaults", 1_000_000, 0.01, 9_585_059, 7},
		{"small strict", 1_000, 0.001, 14_378, 10},
		{"loose", 100, 0.1, 480, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, k := OptimalParameters(tt.n, tt.p)
			assert.Equal(t, tt.wantM, m)
			assert.Equal(t, tt.wantK, k)
		})
	}
}

func TestNewRejectsBadParameters(t *testing.T) {
	_, err := New(-1, 0.01)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = New(100, 1.5)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	f, err := New(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_585_059), f.Stats().Bits)
}

func randomKeys(r *rand.Rand, n int, prefix string) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%d-%x", prefix, i, r.Int63())
	}
	return keys
}

func TestEmptyFilterSaysNo(t *testing.T) {
	f, err := New(10_000, 0.01)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	for _, key := range randomKeys(r, 1_000, "never") {
		assert.False(t, f.MightExist(key))
	}

	stats := f.Stats()
	assert.Equal(t, int64(1_000), stats.Checks)
	assert.Equal(t, int64(1_000), stats.QueriesSaved)
	assert.Zero(t, stats.EstimatedFalsePositiveRate)
}

func TestNoFalseNegatives(t *testing.T) {
	f, err := New(10_000, 0.01)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	keys := randomKeys(r, 10_000, "member")
	for _, key := range keys {
		f.Add(key)
		require.True(t, f.MightExist(key), "key %q must be present right after Add", key)
	}

	for _, key := range keys {
		assert.True(t, f.MightExist(key))
	}
	assert.Equal(t, int64(len(keys)), f.Stats().Items)
}

func TestFalsePositiveRateNearTarget(t *testing.T) {
	const (
		n      = 20_000
		target = 0.01
		probes = 100_000
	)

	f, err := New(n, target)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(7))
	f.Initialize(randomKeys(r, n, "member"))

	falsePositives := 0
	for _, key := range randomKeys(r, probes, "probe") {
		if f.MightExist(key) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / probes
	assert.Less(t, observed, 3*target, "observed rate %.4f", observed)
	assert.InDelta(t, target, f.EstimatedFalsePositiveRate(), target)
}

func TestInitializeFrom(t *testing.T) {
	f, err := New(100, 0.01)
	require.NoError(t, err)

	codes := []string{"abc", "def", "ghi"}
	each := func(ctx context.Context, fn func(string) error) error {
		for _, c := range codes {
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}

	loaded, err := f.InitializeFrom(context.Background(), each)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	for _, c := range codes {
		assert.True(t, f.MightExist(c))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.InitializeFrom(ctx, each)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConcurrentAddAndCheck(t *testing.T) {
	f, err := New(50_000, 0.01)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1_000; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				f.Add(key)
				if !f.MightExist(key) {
					t.Errorf("false negative for %s", key)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(8_000), f.Stats().Items)
}
