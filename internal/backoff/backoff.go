// Package backoff provides capped jitter backoff and a retry loop for
// transient token store and event source failures.
package backoff

import (
	"context"
	rand "math/rand/v2"
	"time"
)

// Policy configures Retry.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first. Zero or
	// negative retries until the context is done.
	MaxAttempts int

	// Initial is the first delay (and the jitter floor).
	Initial time.Duration

	// Max caps every delay. Zero means no cap.
	Max time.Duration

	// Multiplier grows the delay ceiling after each attempt. Values below 1 mean 1.
	Multiplier float64

	// Seed makes the jitter deterministic when non-zero.
	Seed int64
}

// DefaultPolicy is used when a component is given a zero Policy.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	Initial:     50 * time.Millisecond,
	Max:         2 * time.Second,
	Multiplier:  2.0,
}

// Jitter returns the delay following prev using decorrelated jitter.
//
// The result is base plus a random amount below prev*mult-base, capped at
// capDur. A non-positive prev starts at base.
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
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
		return base
	}

	spread := time.Duration(float64(prev)*mult) - base
	if spread <= 0 {
		spread = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// NewRNG returns a deterministic generator for a non-zero seed, nil otherwise.
//
//nolint:gosec
func NewRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)

	return rand.New(rand.NewPCG(s1, s1^0x9e3779b97f4a7c15))
}

// Retry calls op until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done.
//
// Parameters:
//   - ctx: Context bounding all attempts and waits
//   - p: Backoff policy
//   - retryable: Reports whether an error should be retried (nil retries every error)
//   - onRetry: Called before each wait with the attempt number, error, and delay (may be nil)
//   - op: Operation to run
//
// Returns:
//   - error: nil on success, the last op error otherwise, or ctx.Err() if the
//     context ended while waiting
func Retry(
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	onRetry func(attempt int, err error, delay time.Duration),
	op func(ctx context.Context) error,
) error {
	rng := NewRNG(p.Seed)

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		delay = Jitter(delay, p.Initial, p.Multiplier, p.Max, rng)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
