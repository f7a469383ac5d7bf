package user

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/trezcool/shule/core"
)

// LoginThrottle bounds authentication attempts per (origin, login) pair
// using a token bucket sized to the configured window. Counters are only
// touched under the mutex; no read-then-write races under concurrent
// attempts from the same origin.
type LoginThrottle struct {
	mu      sync.Mutex
	buckets map[string]*throttleBucket

	limit rate.Limit
	burst int
	ttl   time.Duration
}

type throttleBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewLoginThrottle(conf core.LoginThrottleConfig) *LoginThrottle {
	return &LoginThrottle{
		buckets: make(map[string]*throttleBucket),
		limit:   rate.Every(conf.Window / time.Duration(conf.Attempts)),
		burst:   conf.Attempts,
		ttl:     conf.Window,
	}
}

// Allow reports whether another attempt is permitted for this origin+login.
func (t *LoginThrottle) Allow(origin, login string) bool {
	key := origin + "|" + strings.ToLower(login)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	b, ok := t.buckets[key]
	if !ok {
		b = &throttleBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.lim.Allow()
}

// prune drops buckets idle for longer than the window; called under mu.
func (t *LoginThrottle) prune() {
	if len(t.buckets) < 1024 {
		return
	}
	cutoff := time.Now().Add(-t.ttl)
	for k, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, k)
		}
	}
}
