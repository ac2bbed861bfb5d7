package errutil

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	require.True(t, IsRetryable(Unavailable("provider down")))
	require.True(t, IsRetryable(TooManyRequests("quota")))
	require.True(t, IsRetryable(Internal("boom")))

	require.False(t, IsRetryable(ReauthRequired("token dead")))
	require.False(t, IsRetryable(ValidationFailed("negative counts")))
	require.False(t, IsRetryable(Conflict("duplicate run")))
	require.False(t, IsRetryable(NotFound("nope")))

	require.True(t, IsReauth(ReauthRequired("token dead")))
	require.False(t, IsReauth(Unavailable("provider down")))

	require.True(t, IsConflict(Conflict("duplicate run")))
	require.True(t, IsInvariantViolation(InvariantViolation("net != gross - fee")))
}

func TestUnclassifiedErrorsAreRetryable(t *testing.T) {
	require.True(t, IsRetryable(errors.New("connection reset by peer")))
}

func TestWrappedErrorsKeepClassification(t *testing.T) {
	inner := TooManyRequests("quota", WithRetryAfter(42*time.Second))
	wrapped := fmt.Errorf("fetch metrics: %w", inner)

	require.True(t, IsRetryable(wrapped))
	require.Equal(t, 42*time.Second, RetryAfter(wrapped))
}

func TestRetryAfterDefaultsToZero(t *testing.T) {
	require.Zero(t, RetryAfter(Unavailable("provider down")))
	require.Zero(t, RetryAfter(errors.New("plain")))
}

func TestErrorStringCarriesCode(t *testing.T) {
	err := ReauthRequired("token dead", WithErr(errors.New("401")))
	require.Contains(t, err.Error(), "REAUTH_REQUIRED")
	require.Contains(t, err.Error(), "401")
}
