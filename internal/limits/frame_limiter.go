// Package limits provides inbound rate limiting for client connections.
package limits

import (
	"golang.org/x/time/rate"
)

// FrameLimiter bounds how fast a single connection may send frames.
//
// Token bucket via golang.org/x/time/rate: the burst absorbs legitimate
// flurries (a client resubscribing after reconnect), the sustained rate stops
// a buggy or hostile client from starving everyone else. Frames over the
// limit are answered with an error frame and dropped; the connection itself
// stays up.
type FrameLimiter struct {
	limiter *rate.Limiter
}

// NewFrameLimiter creates a limiter allowing framesPerSec sustained with the
// given burst. A framesPerSec of 0 disables limiting entirely.
func NewFrameLimiter(framesPerSec float64, burst int) *FrameLimiter {
	if framesPerSec <= 0 {
		return &FrameLimiter{}
	}
	return &FrameLimiter{
		limiter: rate.NewLimiter(rate.Limit(framesPerSec), burst),
	}
}

// Allow reports whether one more frame may be processed now.
func (l *FrameLimiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
