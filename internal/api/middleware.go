package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/codyseavey/mtg-finder/internal/metrics"
)

// metricsMiddleware records request counts and latency per route
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// clientLimiters hands out one token bucket per client IP. Idle clients age out of the cache.
type clientLimiters struct {
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &clientLimiters{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

func (l *clientLimiters) get(client string) *rate.Limiter {
	if lim, ok := l.buckets.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.Add(client, lim)
	return lim
}

// rateLimitMiddleware rejects clients that exceed rps with 429. rps <= 0 disables it.
func rateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newClientLimiters(rps, burst)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			metrics.HTTPRateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
