package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"

	"github.com/ehr/orderconsole/internal/platform/auth"
	"github.com/ehr/orderconsole/internal/platform/metrics"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int64
	// IdleAfter drops a client's bucket once it has been unused this long.
	IdleAfter time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         100,
		IdleAfter:         10 * time.Minute,
	}
}

type clientBucket struct {
	bucket   *ratelimit.Bucket
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientBucket
	now     func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimiter{cfg: cfg, clients: make(map[string]*clientBucket), now: time.Now}
}

func (rl *RateLimiter) bucket(key string) *ratelimit.Bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cb, ok := rl.clients[key]
	if !ok {
		cb = &clientBucket{bucket: ratelimit.NewBucketWithRate(rl.cfg.RequestsPerSecond, rl.cfg.BurstSize)}
		rl.clients[key] = cb
		metrics.RateLimiterBuckets.Set(float64(len(rl.clients)))
	}
	cb.lastSeen = rl.now()
	return cb.bucket
}

// Prune forgets clients idle for longer than IdleAfter and returns how many
// were removed. The draft sweeper job calls it on its schedule.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.cfg.IdleAfter)
	removed := 0
	for key, cb := range rl.clients {
		if cb.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	metrics.RateLimiterBuckets.Set(float64(len(rl.clients)))
	return removed
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware keys buckets by authenticated user, falling back to client IP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	limit := strconv.FormatInt(rl.cfg.BurstSize, 10)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			bucket := rl.bucket(key)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if bucket.TakeAvailable(1) < 1 {
				wait := time.Duration(float64(time.Second) / rl.cfg.RequestsPerSecond)
				h.Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(bucket.Available(), 10))
			return next(c)
		}
	}
}
