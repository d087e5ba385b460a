package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket in bytes: rate = mbps*10^6/8
// bytes/sec, with a burst of twice one second's budget. A nil-backed
// RateLimiter (constructed with mbps <= 0) is "unlimited": it always
// has quota and relies on the OS socket for backpressure instead.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter budgeted at mbps megabits per
// second. mbps <= 0 means unlimited.
func NewRateLimiter(mbps float64) *RateLimiter {
	if mbps <= 0 {
		return &RateLimiter{}
	}
	bytesPerSec := mbps * 1e6 / 8
	maxQuota := 2 * bytesPerSec
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), int(maxQuota))}
}

// Unlimited reports whether this limiter imposes no budget.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter == nil
}

// HasQuota reports whether n bytes may be sent right now, consuming
// them from the bucket if so. The bucket refills by elapsed time times
// the rate, capped at the burst maximum.
func (r *RateLimiter) HasQuota(n int) bool {
	if r.Unlimited() {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// EstimateWait returns how long the caller must wait before n bytes
// would be available, without consuming any tokens.
func (r *RateLimiter) EstimateWait(n int) time.Duration {
	if r.Unlimited() {
		return 0
	}
	reservation := r.limiter.ReserveN(time.Now(), n)
	defer reservation.Cancel()
	if !reservation.OK() {
		// n exceeds max_quota: it can never be granted in one shot.
		return time.Hour
	}
	return reservation.Delay()
}
