// Package ratelimit provides keyed token-bucket limiters with bounded memory.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"portfolio-cms/backend/internal/security"
)

// DefaultCacheSize bounds the number of tracked clients per limiter.
const DefaultCacheSize = 10000

// Rule allows Requests per Window, refilled continuously, with a burst of Requests.
type Rule struct {
	Requests int
	Window   time.Duration
}

// Limiter tracks one token bucket per key. Least recently seen keys are evicted
// once the cache is full.
type Limiter struct {
	mu      sync.Mutex
	rule    Rule
	buckets *lru.Cache[string, *rate.Limiter]
	nowF    func() time.Time
}

// New returns a Limiter for rule holding at most size keys (DefaultCacheSize when size <= 0).
func New(rule Rule, size int) *Limiter {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if rule.Requests <= 0 {
		rule.Requests = 1
	}
	if rule.Window <= 0 {
		rule.Window = time.Minute
	}
	c, _ := lru.New[string, *rate.Limiter](size) // only errors if size <= 0
	return &Limiter{rule: rule, buckets: c, nowF: time.Now}
}

// SetClock overrides the clock. For tests.
func (l *Limiter) SetClock(now func() time.Time) { l.nowF = now }

// Rule returns the limiter's rule.
func (l *Limiter) Rule() Rule { return l.rule }

// Allow takes one token from key's bucket. When none is left it returns false
// and how long until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	b := l.bucket(key)
	now := l.nowF()
	if b.AllowN(now, 1) {
		return true, 0
	}
	r := b.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	every := l.rule.Window / time.Duration(l.rule.Requests)
	b := rate.NewLimiter(rate.Every(every), l.rule.Requests)
	l.buckets.Add(key, b)
	return b
}

// ClientKey derives the bucket key of a client from its IP and User-Agent.
func ClientKey(ip, userAgent string) string {
	return security.HashToken(ip + userAgent)
}
