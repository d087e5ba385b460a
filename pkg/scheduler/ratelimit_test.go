package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterUnlimitedAlwaysHasQuota(t *testing.T) {
	r := NewRateLimiter(0)
	require.True(t, r.Unlimited())
	require.True(t, r.HasQuota(1<<30))
	require.Equal(t, time.Duration(0), r.EstimateWait(1<<30))
}

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	r := NewRateLimiter(8) // 8 Mbps -> 1e6 bytes/sec, burst 2e6 bytes
	require.False(t, r.Unlimited())
	require.True(t, r.HasQuota(1_000_000))
	require.True(t, r.HasQuota(1_000_000))
	require.False(t, r.HasQuota(1_000_000))
	require.Greater(t, r.EstimateWait(1_000_000), time.Duration(0))
}
