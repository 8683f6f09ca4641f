package providers

import (
	"context"
	"sync"
	"time"

	"github.com/meridianhq/orchestrator/internal/backoff"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// backoffPolicy follows internal/backoff.DefaultPolicy (100ms initial,
// factor 2, 10% jitter) but caps at 5s instead of 30s; it is used here for
// the per-provider local retry delay between transport failures.
var backoffPolicy = backoff.BackoffPolicy{
	InitialMs: 100,
	MaxMs:     5000,
	Factor:    2,
	Jitter:    0.1,
}

// circuitBreakerThreshold and circuitBreakerCooldown implement the
// teacher's FailoverOrchestrator circuit-breaker idiom: a provider that
// fails this many times in a row is treated as unavailable for a
// cooldown window independent of any rate-limit back-off hint.
const (
	circuitBreakerThreshold = 3
	circuitBreakerCooldown  = 60 * time.Second
)

// providerState is the per-provider ephemeral state described in spec.md
// §4.1: "available | backing-off(until T)". There is no shared global
// lock; each provider's state is guarded independently. A provider is
// backing-off either because of an explicit rate-limit hint or because
// its consecutive-failure circuit breaker has tripped.
type providerState struct {
	mu                  sync.Mutex
	backingOffAt        time.Time
	consecutiveFailures int
	circuitOpenUntil    time.Time
}

func (s *providerState) isBackingOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return now.Before(s.backingOffAt) || now.Before(s.circuitOpenUntil)
}

func (s *providerState) armBackoff(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backingOffAt = until
}

// recordFailure increments the consecutive-failure counter and opens the
// circuit once it reaches circuitBreakerThreshold.
func (s *providerState) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= circuitBreakerThreshold {
		s.circuitOpenUntil = time.Now().Add(circuitBreakerCooldown)
	}
}

// recordSuccess resets the circuit breaker: a successful call clears
// both the consecutive-failure count and any open circuit.
func (s *providerState) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.circuitOpenUntil = time.Time{}
}

// Dispatcher implements the Provider Dispatcher (C1): it tries providers
// in order, respecting per-provider timeouts and local retries, and
// returns AllProvidersExhaustedError only once every provider has failed.
type Dispatcher struct {
	mu        sync.RWMutex
	providers []Provider
	descs     []models.ProviderDescriptor
	states    map[string]*providerState
}

// NewDispatcher builds a dispatcher from an ordered provider list and the
// matching descriptors (timeout + retry budget per provider).
func NewDispatcher(providerList []Provider, descs []models.ProviderDescriptor) *Dispatcher {
	d := &Dispatcher{
		providers: providerList,
		descs:     descs,
		states:    make(map[string]*providerState),
	}
	for _, p := range providerList {
		d.states[p.Name()] = &providerState{}
	}
	return d
}

// Reload atomically replaces the provider chain — the only mutation the
// spec permits on ProviderDescriptor ordering.
func (d *Dispatcher) Reload(providerList []Provider, descs []models.ProviderDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers = providerList
	d.descs = descs
	states := make(map[string]*providerState, len(providerList))
	for _, p := range providerList {
		if s, ok := d.states[p.Name()]; ok {
			states[p.Name()] = s
		} else {
			states[p.Name()] = &providerState{}
		}
	}
	d.states = states
}

// Generate implements the dispatcher's one operation: try providers in
// order, with per-provider timeout and local retries, falling over to the
// next provider on any failure except it records the reason. Streaming is
// not part of this narrow contract — Provider.Complete already assembles
// the final text, matching the spec's requirement that partial output on
// transport failure is discarded.
func (d *Dispatcher) Generate(ctx context.Context, req *CompletionRequest) (*CompletionResult, string, error) {
	d.mu.RLock()
	providerList := append([]Provider(nil), d.providers...)
	descs := append([]models.ProviderDescriptor(nil), d.descs...)
	d.mu.RUnlock()

	if len(providerList) == 0 {
		return nil, "", &AllProvidersExhaustedError{}
	}

	var failures []ProviderFailure

	for i, p := range providerList {
		state := d.stateFor(p.Name())
		if state.isBackingOff() {
			failures = append(failures, ProviderFailure{Provider: p.Name(), Reason: "backing-off"})
			continue
		}

		desc := descriptorFor(descs, i)
		result, err := d.tryProvider(ctx, p, req, desc)
		if err == nil {
			state.recordSuccess()
			return result, p.Name(), nil
		}

		reason := classify(err)
		failures = append(failures, ProviderFailure{Provider: p.Name(), Reason: reason, Err: err})
		state.recordFailure()

		if isRateLimited(err) {
			state.armBackoff(time.Now().Add(rateLimitCooldown))
		}

		if !skipsOnAuth(err) && !isRetryableLocally(err) && reason != "rate_limit" &&
			reason != "billing" && reason != "model_unavailable" && reason != "server_error" {
			// Non-retriable, non-failover-eligible error: still moves on to
			// the next provider per spec step 3 ("try Pi+1"), but nothing
			// further to do locally.
			continue
		}
	}

	return nil, "", &AllProvidersExhaustedError{Failures: failures}
}

const rateLimitCooldown = 30 * time.Second

func (d *Dispatcher) stateFor(name string) *providerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[name]
	if !ok {
		s = &providerState{}
		d.states[name] = s
	}
	return s
}

func descriptorFor(descs []models.ProviderDescriptor, i int) models.ProviderDescriptor {
	if i < len(descs) {
		return descs[i]
	}
	return models.ProviderDescriptor{Timeout: 30 * time.Second, RetryBudget: 0}
}

// tryProvider issues the call with the descriptor's timeout and up to
// RetryBudget local retries on transport error.
func (d *Dispatcher) tryProvider(ctx context.Context, p Provider, req *CompletionRequest, desc models.ProviderDescriptor) (*CompletionResult, error) {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= desc.RetryBudget; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := p.Complete(callCtx, req)
		cancel()

		if err == nil {
			result.Latency = time.Since(start)
			return result, nil
		}
		lastErr = err

		if skipsOnAuth(err) {
			return nil, err
		}
		if !isRetryableLocally(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= desc.RetryBudget {
			break
		}

		delay := backoff.ComputeBackoff(backoffPolicy, attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
