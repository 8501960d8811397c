package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quickdowntime/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newRateLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doGet(router http.Handler, forwardedFor string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newRateLimitedRouter(cfg)

	assert.Equal(t, http.StatusOK, doGet(router, "").Code)
	assert.Equal(t, http.StatusOK, doGet(router, "").Code)
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newRateLimitedRouter(cfg)

	assert.Equal(t, http.StatusOK, doGet(router, "").Code)

	w := doGet(router, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestHTTPRateLimitMiddleware_PerClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newRateLimitedRouter(cfg)

	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.1, 192.168.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.2").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "172.16.0.9:5555"
	assert.Equal(t, "172.16.0.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "172.16.0.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestSubmissionRateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.Submissions.PerMinute = 6
	cfg.RateLimiting.Submissions.Burst = 2

	gin.SetMode(gin.TestMode)
	router := gin.New()
	submit := NewSubmissionRateLimit(cfg)
	router.POST("/api/operator/log", submit, func(c *gin.Context) { c.Status(http.StatusCreated) })
	router.GET("/api/operator/active", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/operator/log", nil)
		req.Header.Set("X-Forwarded-For", ip)
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusCreated, post("10.0.0.1").Code)
	assert.Equal(t, http.StatusCreated, post("10.0.0.1").Code)

	w := post("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"), "six per minute refills one token every ten seconds")
	assert.Contains(t, w.Body.String(), "too many downtime submissions")

	assert.Equal(t, http.StatusCreated, post("10.0.0.2").Code, "other tablets keep their own budget")

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/operator/active", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "reads are not throttled")
	}
}

func TestSubmissionRateLimit_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.Submissions.PerMinute = 0

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/downtime/log-local", NewSubmissionRateLimit(cfg), func(c *gin.Context) { c.Status(http.StatusCreated) })

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/downtime/log-local", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}

func TestClientLimiters_SweepsIdleClients(t *testing.T) {
	limiters := newClientLimiters(rate.Limit(1), 1)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	limiters.now = func() time.Time { return now }

	ok, _ := limiters.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiters.allow("10.0.0.2")
	assert.True(t, ok)

	ok, wait := limiters.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(idleClientTTL + time.Minute)
	ok, _ = limiters.allow("10.0.0.3")
	assert.True(t, ok)

	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	assert.Len(t, limiters.clients, 1, "clients idle past the TTL are dropped")
	assert.Contains(t, limiters.clients, "10.0.0.3")
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(0))
	assert.Equal(t, "1", retryAfter(300*time.Millisecond))
	assert.Equal(t, "2", retryAfter(1100*time.Millisecond))
}
