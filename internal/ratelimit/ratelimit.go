package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter is a token bucket for one connection's inbound frames. It also
// counts how many frames it has refused so the caller can give up on a
// client that keeps flooding. Not safe for concurrent use; each read pump
// owns its own Limiter.
type Limiter struct {
	limiter   *rate.Limiter
	denied    int
	maxDenied int
}

// NewLimiter allows perSecond frames on average with bursts up to burst.
// maxDenied <= 0 never reports Exceeded.
func NewLimiter(perSecond float64, burst, maxDenied int) *Limiter {
	return &Limiter{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		maxDenied: maxDenied,
	}
}

func (l *Limiter) Allow() bool {
	if l.limiter.Allow() {
		return true
	}
	l.denied++
	return false
}

// Denied returns the number of refused frames so far
func (l *Limiter) Denied() int { return l.denied }

// Exceeded reports whether the client has been refused more than maxDenied times.
func (l *Limiter) Exceeded() bool {
	return l.maxDenied > 0 && l.denied > l.maxDenied
}
