package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecoverableAuth marks a provider failure that should be recorded and
// skipped rather than retried — the spec's "unrecoverable authentication"
// classification.
var ErrUnrecoverableAuth = errors.New("unrecoverable authentication failure")

// ProviderFailure records why one provider in the chain failed.
type ProviderFailure struct {
	Provider string
	Reason   string
	Err      error
}

func (f ProviderFailure) String() string {
	return fmt.Sprintf("%s: %s (%v)", f.Provider, f.Reason, f.Err)
}

// AllProvidersExhaustedError is returned when every provider in the chain
// failed; it carries the per-provider failure reasons for diagnostics.
type AllProvidersExhaustedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}

// classify buckets a raw provider error into the taxonomy used for
// fallback and retry decisions. It is deliberately string-based because
// the teacher's own classifyProviderError in internal/agent/failover.go
// does the same — provider SDKs surface errors through many concrete
// types, and matching on message content is the common denominator.
func classify(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, ErrUnrecoverableAuth) {
		return "auth"
	}

	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return "timeout"
	case strings.Contains(s, "rate limit") || strings.Contains(s, "429") || strings.Contains(s, "too many requests"):
		return "rate_limit"
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "invalid api key") ||
		strings.Contains(s, "authentication") || strings.Contains(s, "401") || strings.Contains(s, "403"):
		return "auth"
	case strings.Contains(s, "billing") || strings.Contains(s, "quota") || strings.Contains(s, "402"):
		return "billing"
	case strings.Contains(s, "model not found") || strings.Contains(s, "does not exist"):
		return "model_unavailable"
	case strings.Contains(s, "internal server") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "504") || strings.Contains(s, "500"):
		return "server_error"
	default:
		return "transient"
	}
}

// isRetryableLocally reports whether the dispatcher should retry the same
// provider (transport-level failure) before moving to the next one.
func isRetryableLocally(err error) bool {
	switch classify(err) {
	case "timeout", "server_error", "transient":
		return true
	default:
		return false
	}
}

// skipsOnAuth reports whether the failure is the spec's "unrecoverable
// authentication" case — recorded, then move to the next provider without
// local retries.
func skipsOnAuth(err error) bool {
	return classify(err) == "auth"
}

// isRateLimited reports whether the failure should arm a back-off window
// for this provider.
func isRateLimited(err error) bool {
	return classify(err) == "rate_limit"
}
