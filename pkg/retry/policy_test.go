package retry

import (
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func testDefaults() map[string]config.RetryDefaults {
	return map[string]config.RetryDefaults{
		string(types.ErrNetwork): {Retriable: true, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second, MaxAttempts: 3},
		string(types.ErrAuth):    {Retriable: false, InitialBackoff: 0, MaxBackoff: 0, MaxAttempts: 0},
		string(types.ErrUnknown): {Retriable: true, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, MaxAttempts: 2},
	}
}

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	p := NewPolicy(testDefaults())

	assert.True(t, p.ShouldRetry(types.ErrNetwork, 1))
	assert.True(t, p.ShouldRetry(types.ErrNetwork, 2))
	assert.False(t, p.ShouldRetry(types.ErrNetwork, 3))
}

func TestShouldRetryNonRetriableKind(t *testing.T) {
	p := NewPolicy(testDefaults())
	assert.False(t, p.ShouldRetry(types.ErrAuth, 1))
}

func TestShouldRetryFallsBackToUnknown(t *testing.T) {
	p := NewPolicy(testDefaults())
	assert.True(t, p.ShouldRetry(types.ErrorKind("SomethingWeird"), 1))
	assert.False(t, p.ShouldRetry(types.ErrorKind("SomethingWeird"), 2))
}

func TestNextBackoffGrowsWithAttempt(t *testing.T) {
	p := NewPolicy(testDefaults())

	// RandomizationFactor of 0.5 puts each draw within +/-50% of the
	// unjittered exponential value, so compare ranges rather than
	// exact durations.
	first := p.NextBackoff(types.ErrNetwork, 1)
	assert.InDelta(t, 100*time.Millisecond, first, float64(50*time.Millisecond))

	third := p.NextBackoff(types.ErrNetwork, 3)
	assert.InDelta(t, 400*time.Millisecond, third, float64(200*time.Millisecond))
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	p := NewPolicy(testDefaults())
	wait := p.NextBackoff(types.ErrNetwork, 10)
	assert.LessOrEqual(t, wait, 2*time.Second)
}

func TestClassifyHTTPLikeStatus(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		timedOut   bool
		want       types.ErrorKind
	}{
		{"timeout wins", 500, true, types.ErrTimeout},
		{"rate limited", 429, false, types.ErrRateLimit},
		{"unauthorized", 401, false, types.ErrAuth},
		{"forbidden", 403, false, types.ErrAuth},
		{"bad request", 400, false, types.ErrValidation},
		{"unprocessable", 422, false, types.ErrValidation},
		{"other client error", 404, false, types.ErrClient},
		{"server error", 503, false, types.ErrServer},
		{"no status, no timeout", 0, false, types.ErrNetwork},
		{"unrecognized", 200, false, types.ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyHTTPLikeStatus(tc.statusCode, tc.timedOut)
			assert.Equal(t, tc.want, got)
		})
	}
}
