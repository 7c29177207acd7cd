package auth

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTracked bounds the number of clients remembered between prunes.
const maxTracked = 4096

// Throttle limits failed logins per client. Each client may fail max times
// in a row; after that one more attempt is allowed per cooldown period.
type Throttle struct {
	max      int
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(max int, cooldown time.Duration) *Throttle {
	if max <= 0 {
		max = 1
	}
	return &Throttle{
		max:      max,
		cooldown: cooldown,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	l, ok := t.limiters[key]
	if !ok {
		limit := rate.Inf
		if t.cooldown > 0 {
			limit = rate.Every(t.cooldown)
		}
		l = rate.NewLimiter(limit, t.max)
		t.limiters[key] = l
	}
	return l
}

// Check reports whether key may attempt a login now, and if not, how long
// until it may.
func (t *Throttle) Check(key string) (bool, time.Duration) {
	if t.cooldown <= 0 {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		return true, 0
	}
	now := t.now()
	tokens := l.TokensAt(now)
	if tokens >= 1 {
		return true, 0
	}
	wait := time.Duration(math.Ceil((1 - tokens) * float64(t.cooldown)))
	return false, wait
}

// Fail records a failed attempt.
func (t *Throttle) Fail(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if len(t.limiters) >= maxTracked {
		t.prune(now)
	}
	t.limiter(key).AllowN(now, 1)
}

// Reset forgets key, typically after a successful login.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
}

// prune drops clients whose bucket has refilled. Callers hold mu.
func (t *Throttle) prune(now time.Time) {
	for k, l := range t.limiters {
		if l.TokensAt(now) >= float64(t.max) {
			delete(t.limiters, k)
		}
	}
}
