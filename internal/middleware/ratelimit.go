package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fundarb/internal/errors"
)

// RateLimitConfig defines per-client rate limiting.
type RateLimitConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	Burst          int     `json:"burst" yaml:"burst"`
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rps      rate.Limit
	burst    int
	lastSweep time.Time
}

// RateLimit limits requests per client IP using a token bucket.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps) * 2
	}

	rl := &ipRateLimiter{
		clients:  make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastSweep: time.Now(),
	}

	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			appErr := errors.NewAppError(errors.ErrCodeRateLimit, "Rate limit exceeded", nil).
				WithRequestID(GetRequestID(c))
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, errors.NewErrorResponse(appErr, c.Request.URL.Path))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = now

	// Drop buckets idle for more than ten minutes.
	if now.Sub(rl.lastSweep) > time.Minute {
		for key, entry := range rl.clients {
			if now.Sub(entry.lastSeen) > 10*time.Minute {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	return cl.limiter.Allow()
}
