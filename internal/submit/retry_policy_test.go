package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutError struct{ timeout bool }

func (e *timeoutError) Error() string { return "net issue" }
func (e *timeoutError) Timeout() bool { return e.timeout }
func (e *timeoutError) Temporary() bool {
	return false
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()

	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3), "attempts are capped")
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(&timeoutError{timeout: true}, 1))
	require.False(t, p.ShouldRetry(&timeoutError{timeout: false}, 1))
}

func TestExponentialRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, 5*time.Second)
	}
	// First backoff is within [125ms, 250ms).
	first := p.Backoff(0)
	require.GreaterOrEqual(t, first, 125*time.Millisecond)
	require.Less(t, first, 250*time.Millisecond)
}
