package middleware

import (
	"net/http"
	"sync"
	"time"

	"complyhub/internal/config"
	appmetrics "complyhub/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket is a simple token bucket implementation for rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64 // tokens per second
	burst      float64
}

func newBucket(rpm, burst int, now time.Time) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm // default burst equals a minute worth
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: now,
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

// TenantRateLimiter keeps one bucket per tenant. Requests without a tenant
// (public routes) are keyed by client IP.
type TenantRateLimiter struct {
	cfg config.RateLimitingConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewTenantRateLimiter(cfg config.RateLimitingConfig) *TenantRateLimiter {
	return &TenantRateLimiter{cfg: cfg, now: time.Now, buckets: make(map[string]*tokenBucket)}
}

func (l *TenantRateLimiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := newBucket(l.cfg.RequestsPerMinute, l.cfg.Burst, l.now())
	l.buckets[key] = b
	return b
}

// Allow consumes one token of key.
func (l *TenantRateLimiter) Allow(key string) bool {
	return l.bucket(key).allow(l.now())
}

// Middleware must run after AuthMiddleware to see the tenant.
func (l *TenantRateLimiter) Middleware() gin.HandlerFunc {
	if !l.cfg.Enabled || l.cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key, scope := "tenant:"+c.GetString(ContextTenantID), "tenant"
		if c.GetString(ContextTenantID) == "" {
			key, scope = "ip:"+c.ClientIP(), "ip"
		}
		if !l.Allow(key) {
			appmetrics.IncRateLimitDrop(scope)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware builds a per-tenant limiter from cfg.Security.RateLimiting.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	return NewTenantRateLimiter(cfg.Security.RateLimiting).Middleware()
}
