package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"transaction-api/internal/cache"
	"transaction-api/internal/config"
)

// RateLimitMiddleware applies a process-wide token bucket plus per-IP and
// per-user fixed windows backed by Redis. Window checks fail open: a cache
// outage must not take the API down with it.
type RateLimitMiddleware struct {
	cfg      config.RateLimitConfig
	global   *rate.Limiter
	counters cache.CacheService
	logger   *logrus.Logger
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, counters cache.CacheService, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:      cfg,
		global:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		counters: counters,
		logger:   logger,
	}
}

// Limit enforces the configured limits. Probe endpoints are exempt.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Enabled || skippedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		if !m.global.Allow() {
			m.reject(c, 1, "service is receiving too many requests")
			return
		}

		// Fixed one-minute windows; the key rolls over with the window.
		window := time.Now().Unix() / 60
		if limit := m.cfg.IPRequestsPerMinute; limit > 0 {
			key := fmt.Sprintf("ratelimit:ip:%s:%d", c.ClientIP(), window)
			if !m.allow(c, key, limit) {
				return
			}
		}
		if limit := m.cfg.UserRequestsPerMinute; limit > 0 {
			if p := PrincipalFrom(c); p.Authenticated {
				key := fmt.Sprintf("ratelimit:user:%s:%d", p.UserID, window)
				if !m.allow(c, key, limit) {
					return
				}
			}
		}

		c.Next()
	}
}

func (m *RateLimitMiddleware) allow(c *gin.Context, key string, limit int) bool {
	count, err := m.counters.Increment(c.Request.Context(), key, 2*time.Minute)
	if err != nil {
		m.logger.WithError(err).Warn("Rate limit counter unavailable, allowing request")
		return true
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	reset := 60 - time.Now().Unix()%60

	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	if count > int64(limit) {
		m.reject(c, reset, "request rate limit exceeded")
		return false
	}
	return true
}

func (m *RateLimitMiddleware) reject(c *gin.Context, retryAfter int64, message string) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "RATE_LIMIT_EXCEEDED",
		"message":     message,
		"retry_after": retryAfter,
	})
}
