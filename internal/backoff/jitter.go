// Package backoff provides decorrelated-jitter retry delays used by the
// nMin recovery worker-shutdown poll.
package backoff

import (
	rand "math/rand/v2"
	"time"
)

// Jitter computes the next retry delay given the previous one, using the
// "Decorrelated Jitter" backoff variant:
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
//   - If prev <= 0, starts from base.
//   - mult < 1.0 is treated as 1.0 (no growth).
//   - The result never exceeds capDur (when capDur > 0).
func Jitter(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}

	if prev <= 0 {
		if capDur > 0 && base > capDur {
			return capDur
		}
		return base
	}

	maxDuration := time.Duration(float64(prev)*mult) - base
	if maxDuration <= 0 {
		maxDuration = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(maxDuration))
	} else {
		jitter = rand.Int64N(int64(maxDuration)) //nolint:gosec
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}
	return next
}

// NewRNG returns a deterministic RNG when seed is non-zero, or nil (letting
// callers fall back to the package-level PRNG) when seed is zero.
//
//nolint:gosec
func NewRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15
	return rand.New(rand.NewPCG(s1, s2))
}
