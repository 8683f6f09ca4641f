package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoffWithRand_NoJitterIsExponential(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 100000, Factor: 2, Jitter: 0}

	assert.Equal(t, 100*time.Millisecond, ComputeBackoffWithRand(policy, 1, 0))
	assert.Equal(t, 200*time.Millisecond, ComputeBackoffWithRand(policy, 2, 0))
	assert.Equal(t, 400*time.Millisecond, ComputeBackoffWithRand(policy, 3, 0))
	assert.Equal(t, 800*time.Millisecond, ComputeBackoffWithRand(policy, 4, 0))
}

func TestComputeBackoffWithRand_RespectsMax(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 500, Factor: 2, Jitter: 0}

	assert.Equal(t, 500*time.Millisecond, ComputeBackoffWithRand(policy, 10, 0))
}

func TestComputeBackoffWithRand_JitterAddsWithinBound(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 100000, Factor: 2, Jitter: 0.2}

	withoutJitter := ComputeBackoffWithRand(policy, 1, 0)
	withMaxJitter := ComputeBackoffWithRand(policy, 1, 1)

	assert.Equal(t, 100*time.Millisecond, withoutJitter)
	assert.Equal(t, 120*time.Millisecond, withMaxJitter)
}

func TestComputeBackoffWithRand_AttemptBelowOneTreatedAsFirst(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 100000, Factor: 2, Jitter: 0}

	assert.Equal(t, ComputeBackoffWithRand(policy, 1, 0), ComputeBackoffWithRand(policy, 0, 0))
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 100.0, p.InitialMs)
	assert.Equal(t, 30000.0, p.MaxMs)
	assert.Equal(t, 2.0, p.Factor)
	assert.Equal(t, 0.1, p.Jitter)
}

func TestTaskRetryPolicy_DerivesFromBaseAndCap(t *testing.T) {
	p := TaskRetryPolicy(500*time.Millisecond, 30*time.Second)
	assert.Equal(t, 500.0, p.InitialMs)
	assert.Equal(t, 30000.0, p.MaxMs)
	assert.Equal(t, 2.0, p.Factor)
	assert.Equal(t, 0.2, p.Jitter)
}
