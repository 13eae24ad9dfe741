package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthFailureLimiter throttles client IPs that keep presenting bad or
// missing keys, so a flood of garbage never reaches the credential store.
// Only failed authentications spend tokens; valid callers are unaffected.
type AuthFailureLimiter struct {
	store *sync.Map // map[ip]*bucket
	limit rate.Limit
	burst int
	idle  time.Duration
}

type bucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	// We need to know when it was last accessed to clean it up
	lastAccess time.Time
}

// NewAuthFailureLimiter allows perMinute failures per IP with the given
// burst. A non-positive perMinute disables the limiter.
func NewAuthFailureLimiter(perMinute, burst int) *AuthFailureLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &AuthFailureLimiter{
		store: &sync.Map{},
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		idle:  10 * time.Minute,
	}
}

func (l *AuthFailureLimiter) get(ip string, now time.Time) *bucket {
	val, _ := l.store.LoadOrStore(ip, &bucket{
		limiter:    rate.NewLimiter(l.limit, l.burst),
		lastAccess: now,
	})
	b := val.(*bucket)
	b.mu.Lock()
	b.lastAccess = now
	b.mu.Unlock()
	return b
}

// Blocked reports whether ip has no failure budget left. It does not spend.
func (l *AuthFailureLimiter) Blocked(ip string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return false, 0
	}
	b := l.get(ip, now)
	if b.limiter.TokensAt(now) >= 1 {
		return false, 0
	}
	return true, time.Duration(float64(time.Second) / float64(l.limit))
}

// Fail spends one token for ip.
func (l *AuthFailureLimiter) Fail(ip string, now time.Time) {
	if l == nil {
		return
	}
	l.get(ip, now).limiter.AllowN(now, 1)
}

// Run evicts idle buckets until ctx is done.
func (l *AuthFailureLimiter) Run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *AuthFailureLimiter) evict(now time.Time) int {
	removed := 0
	l.store.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		// If not accessed within the idle period, delete it
		if now.Sub(b.lastAccess) > l.idle {
			l.store.Delete(key)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// ClientIP is the remote host without port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
