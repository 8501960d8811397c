package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quickdowntime/pkg/config"
	apperrors "quickdowntime/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleClientTTL is how long a client's limiter survives without traffic.
const idleClientTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client key. Buckets of clients
// that went quiet are swept on a later call.
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	nextSweep time.Time
	now       func() time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes a token from key's bucket. When it is empty the returned
// duration is how long until the next token.
func (l *clientLimiters) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > idleClientTTL {
				delete(l.clients, k)
			}
		}
		l.nextSweep = now.Add(idleClientTTL)
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func passThrough(c *gin.Context) {
	c.Next()
}

// retryAfter renders wait as whole seconds, never less than one.
func retryAfter(wait time.Duration) string {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func throttle(limiters *clientLimiters, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := limiters.allow(clientIP(c.Request))
		if !ok {
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(apperrors.ErrCodeRateLimit),
				"message": message,
			})
			return
		}
		c.Next()
	}
}

// NewHTTPRateLimitMiddleware limits every REST request per client IP and caps
// how many are in flight at once.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	limits := cfg.RateLimiting.HTTP
	perClient := throttle(newClientLimiters(rate.Limit(limits.RequestsPerSecond), limits.Burst), "rate limit exceeded")
	if limits.MaxConcurrent <= 0 {
		return perClient
	}

	inFlight := make(chan struct{}, limits.MaxConcurrent)
	return func(c *gin.Context) {
		select {
		case inFlight <- struct{}{}:
			defer func() { <-inFlight }()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   string(apperrors.ErrCodeServiceUnavailable),
				"message": "too many concurrent requests",
			})
			return
		}
		perClient(c)
	}
}

// NewSubmissionRateLimit throttles the routes that create downtime records,
// per client, at the configured submissions per minute.
func NewSubmissionRateLimit(cfg *config.Config) gin.HandlerFunc {
	limits := cfg.RateLimiting.Submissions
	if !cfg.RateLimiting.Enabled || limits.PerMinute <= 0 {
		return passThrough
	}
	perSecond := rate.Limit(limits.PerMinute / 60)
	return throttle(newClientLimiters(perSecond, limits.Burst), "too many downtime submissions, slow down")
}
