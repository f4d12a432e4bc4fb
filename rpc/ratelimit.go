package rpc

import (
	"sync"

	"stationd/native/station"

	"golang.org/x/time/rate"
)

// principalLimiter hands out one token-bucket limiter per authenticated
// principal, using golang.org/x/time/rate's continuous bucket.
type principalLimiter struct {
	mu       sync.Mutex
	limiters map[station.Principal]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPrincipalLimiter(r rate.Limit, burst int) *principalLimiter {
	return &principalLimiter{
		limiters: make(map[station.Principal]*rate.Limiter),
		r:        r,
		burst:    burst,
	}
}

func (pl *principalLimiter) Allow(p station.Principal) bool {
	pl.mu.Lock()
	l, ok := pl.limiters[p]
	if !ok {
		l = rate.NewLimiter(pl.r, pl.burst)
		pl.limiters[p] = l
	}
	pl.mu.Unlock()
	return l.Allow()
}
