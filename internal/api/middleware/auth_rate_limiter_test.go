package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func loginRouter(l *LoginLimiter) *gin.Engine {
	router := gin.New()
	router.POST("/login", l.Limit(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func loginFrom(router *gin.Engine, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginLimiter_BlocksExcessAttempts(t *testing.T) {
	limiter := NewLoginLimiter(3)
	defer limiter.Stop()
	router := loginRouter(limiter)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, loginFrom(router, "192.168.1.1:12345").Code, "attempt %d", i+1)
	}

	w := loginFrom(router, "192.168.1.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "21", w.Header().Get("Retry-After"))
}

func TestLoginLimiter_SeparateLimitsPerIP(t *testing.T) {
	limiter := NewLoginLimiter(1)
	defer limiter.Stop()
	router := loginRouter(limiter)

	assert.Equal(t, http.StatusOK, loginFrom(router, "192.168.1.1:12345").Code)
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(router, "192.168.1.1:12345").Code)
	assert.Equal(t, http.StatusOK, loginFrom(router, "192.168.1.2:12345").Code)
}

func TestLoginLimiter_NonPositiveRate(t *testing.T) {
	limiter := NewLoginLimiter(-5)
	defer limiter.Stop()
	assert.Equal(t, 1, limiter.burst)
}

func TestLoginLimiter_CleanupDropsIdleClients(t *testing.T) {
	limiter := newLoginLimiter(10, time.Hour, time.Minute)
	defer limiter.Stop()

	limiter.allow("ip1")
	limiter.allow("ip2")
	assert.Equal(t, 2, limiter.Size())

	limiter.cleanup(time.Now())
	assert.Equal(t, 2, limiter.Size())

	limiter.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, limiter.Size())
}

func TestLoginLimiter_StopTwice(t *testing.T) {
	limiter := NewLoginLimiter(5)
	limiter.Stop()
	assert.NotPanics(t, limiter.Stop)
}
