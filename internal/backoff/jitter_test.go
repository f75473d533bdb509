package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stddev(durs []time.Duration) time.Duration {
	if len(durs) == 0 {
		return 0
	}
	vals := make([]float64, len(durs))
	for i, d := range durs {
		vals[i] = float64(d) / float64(time.Second)
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var varSum float64
	for _, v := range vals {
		d := v - mean
		varSum += d * d
	}
	variance := varSum / float64(len(vals))
	return time.Duration(math.Sqrt(variance) * float64(time.Second))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func TestJitter_BasicBoundsAndCapStickiness(t *testing.T) {
	base := 200 * time.Millisecond
	mult := 1.6
	capDur := 500 * time.Millisecond
	rng := NewRNG(42)

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		next := Jitter(prev, base, mult, capDur, rng)
		require.GreaterOrEqual(t, next, minDuration(base, capDur))
		require.LessOrEqual(t, next, capDur)
		prev = next
	}

	rng2 := NewRNG(99)
	prev = capDur
	for i := 0; i < 5; i++ {
		next := Jitter(prev, base, mult, capDur, rng2)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestJitter_CapLessThanBase(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 100 * time.Millisecond
	mult := 1.6
	rng := NewRNG(1)

	next0 := Jitter(0, base, mult, capDur, rng)
	require.Equal(t, capDur, next0)

	next1 := Jitter(base, base, mult, capDur, rng)
	require.Equal(t, capDur, next1)
}

func TestJitter_VarianceAcrossSeeds(t *testing.T) {
	base := 200 * time.Millisecond
	mult := 1.6
	capDur := 2 * time.Second

	const seeds = 5
	const steps = 12
	lasts := make([]time.Duration, 0, seeds)
	for s := int64(1); s <= seeds; s++ {
		prev := time.Duration(0)
		rng := NewRNG(s)
		for i := 0; i < steps; i++ {
			prev = Jitter(prev, base, mult, capDur, rng)
		}
		lasts = append(lasts, prev)
	}

	sd := stddev(lasts)
	require.GreaterOrEqual(t, sd, 50*time.Millisecond, "expected stddev >= 50ms across seeds")
}

func TestJitter_ZeroPrevStartsFromBase(t *testing.T) {
	next := Jitter(0, 100*time.Millisecond, 1.5, 0, NewRNG(7))
	require.Equal(t, 100*time.Millisecond, next)
}

func TestNewRNG_ZeroSeedReturnsNilForPackageFallback(t *testing.T) {
	require.Nil(t, NewRNG(0))
}

func TestNewRNG_NonZeroSeedIsDeterministic(t *testing.T) {
	rngA := NewRNG(123)
	rngB := NewRNG(123)
	require.NotNil(t, rngA)
	require.NotNil(t, rngB)

	base := 50 * time.Millisecond
	for i := 0; i < 5; i++ {
		a := Jitter(base, base, 1.5, time.Second, rngA)
		b := Jitter(base, base, 1.5, time.Second, rngB)
		require.Equal(t, a, b)
	}
}
