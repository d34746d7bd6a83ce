// Package retry classifies failures into the error taxonomy and
// decides whether and how long to wait before retrying, per the
// defaults table in config.Config.RetryDefaults.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Policy decides retry eligibility and backoff duration for a
// classified error kind.
type Policy struct {
	defaults map[string]config.RetryDefaults
}

// NewPolicy builds a Policy from the configured per-kind defaults.
func NewPolicy(defaults map[string]config.RetryDefaults) *Policy {
	return &Policy{defaults: defaults}
}

// ShouldRetry reports whether a failure of this kind on this attempt
// number (1-indexed) should be retried at all.
func (p *Policy) ShouldRetry(kind types.ErrorKind, attempt int) bool {
	d, ok := p.defaults[string(kind)]
	if !ok {
		d = p.defaults[string(types.ErrUnknown)]
	}
	if !d.Retriable {
		return false
	}
	return attempt < d.MaxAttempts
}

// NextBackoff returns the delay to wait before attempt+1, using an
// exponential backoff with +/-50% jitter seeded from the per-kind
// defaults.
func (p *Policy) NextBackoff(kind types.ErrorKind, attempt int) time.Duration {
	d, ok := p.defaults[string(kind)]
	if !ok {
		d = p.defaults[string(types.ErrUnknown)]
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.InitialBackoff
	eb.MaxInterval = d.MaxBackoff
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	eb.Reset()

	wait := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = eb.NextBackOff()
	}
	if wait == backoff.Stop {
		wait = eb.MaxInterval
	}
	return wait
}

// ClassifyHTTPLikeStatus maps an RPC-style outcome hint into the
// error taxonomy; used by components that only have a status code
// or timeout boolean to work with rather than a full transport error.
func ClassifyHTTPLikeStatus(statusCode int, timedOut bool) types.ErrorKind {
	switch {
	case timedOut:
		return types.ErrTimeout
	case statusCode == 429:
		return types.ErrRateLimit
	case statusCode == 401 || statusCode == 403:
		return types.ErrAuth
	case statusCode == 400 || statusCode == 422:
		return types.ErrValidation
	case statusCode >= 400 && statusCode < 500:
		return types.ErrClient
	case statusCode >= 500:
		return types.ErrServer
	case statusCode == 0:
		return types.ErrNetwork
	default:
		return types.ErrUnknown
	}
}
