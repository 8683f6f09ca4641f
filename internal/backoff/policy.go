// Package backoff provides exponential backoff with jitter, used by the
// Provider Dispatcher (per-provider local retries) and the Task
// Orchestrator (retry scheduling).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for exponential backoff calculation.
type BackoffPolicy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// ComputeBackoff calculates the backoff duration for a given attempt
// number (attempts start at 1): base = initialMs * factor^(attempt-1),
// jitter = base * jitter * random(), returns min(maxMs, base+jitter).
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand is ComputeBackoff with an injected random value in
// [0.0, 1.0) for deterministic tests.
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns a sensible default: 100ms initial, 30s max, factor
// 2, 10% jitter.
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// TaskRetryPolicy returns the policy used by the Task Orchestrator's retry
// scheduling: base B, factor 2, jitter 20%, cap C.
func TaskRetryPolicy(base, cap time.Duration) BackoffPolicy {
	return BackoffPolicy{
		InitialMs: float64(base.Milliseconds()),
		MaxMs:     float64(cap.Milliseconds()),
		Factor:    2,
		Jitter:    0.2,
	}
}
