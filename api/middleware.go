package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		} else if status >= http.StatusBadRequest {
			event = logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request processed")
	}
}

// Metrics counts requests by matched route so ids do not explode label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(c.Writer.Status()))
	}
}

// clientLimiters keeps one token bucket per caller. Callers quiet for longer
// than idle are dropped, so rotating the key cannot grow the table forever.
type clientLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	idle := cfg.IdleTimeout()
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &clientLimiters{
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

func (l *clientLimiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.evictIdle(now)
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.bucket.AllowN(now, 1)
}

func (l *clientLimiters) evictIdle(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

func (l *clientLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimit throttles per caller, keyed by X-User-ID or the client IP.
// A non-positive RPS disables it.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return rateLimit(newClientLimiters(cfg))
}

func rateLimit(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(UserHeader)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiters.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// WebhookAuth rejects callbacks that do not present the shared secret.
func WebhookAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(WebhookSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// NewRouter builds the gin engine serving the booking API under /api/v1.
// Payment webhooks are mounted only when webhookSecret is set.
func NewRouter(handler *BookingHandler, cfg config.APIConfig, webhookSecret string, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), Metrics())

	handler.Register(router.Group("/api/v1/bookings", RateLimit(cfg.RateLimit)))
	if webhookSecret != "" {
		handler.RegisterWebhooks(router.Group("/api/v1/payments/webhooks", WebhookAuth(webhookSecret)))
	}
	return router
}
