package client

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// BackoffPolicy defines exponential reconnect delays.
type BackoffPolicy struct {
	// InitialMs is the delay before the first retry in milliseconds.
	InitialMs float64
	// MaxMs caps every delay.
	MaxMs float64
	// Factor is applied once per attempt.
	Factor float64
	// Jitter is the random fraction (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// DefaultBackoff: 250ms doubling up to 30s with 20% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{InitialMs: 250, MaxMs: 30000, Factor: 2, Jitter: 0.2}
}

// ConservativeBackoff is used on degraded links: 1s growing to 60s.
func ConservativeBackoff() BackoffPolicy {
	return BackoffPolicy{InitialMs: 1000, MaxMs: 60000, Factor: 2.5, Jitter: 0.2}
}

// ComputeBackoff returns the delay before attempt (1-based).
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter only
}

// ComputeBackoffWithRand is ComputeBackoff with a caller-supplied random value in [0, 1).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := policy.Factor
	if factor < 1 {
		factor = 1
	}
	base := policy.InitialMs * math.Pow(factor, exp)
	total := base + base*policy.Jitter*randomValue
	if policy.MaxMs > 0 {
		total = math.Min(policy.MaxMs, total)
	}
	return time.Duration(math.Round(total)) * time.Millisecond
}

// SleepWithContext waits d on clk. It returns ctx.Err() if ctx ends first.
func SleepWithContext(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
