package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/piogold/ico_service/internal/domain/entities"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultCleanupTTL      = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter is a stricter per-IP limiter for the admin setup and login
// endpoints. Idle entries are swept in the background.
type LoginLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	retryAfter time.Duration
	cleanupTTL time.Duration
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// NewLoginLimiter allows attemptsPerMinute per client IP, minimum 1.
func NewLoginLimiter(attemptsPerMinute int) *LoginLimiter {
	return newLoginLimiter(attemptsPerMinute, defaultCleanupInterval, defaultCleanupTTL)
}

func newLoginLimiter(attemptsPerMinute int, interval, ttl time.Duration) *LoginLimiter {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 1
	}
	l := &LoginLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Every(time.Minute / time.Duration(attemptsPerMinute)),
		burst:      attemptsPerMinute,
		retryAfter: time.Minute / time.Duration(attemptsPerMinute),
		cleanupTTL: ttl,
		stopCh:     make(chan struct{}),
	}
	go l.cleanupLoop(interval)
	return l
}

func (l *LoginLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *LoginLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.cleanupTTL {
			delete(l.limiters, key)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call twice.
func (l *LoginLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *LoginLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Limit returns the middleware. It relies on gin's trusted proxy settings for c.ClientIP().
func (l *LoginLimiter) Limit() gin.HandlerFunc {
	retry := strconv.Itoa(int(l.retryAfter.Seconds()) + 1)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", retry)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, entities.ErrorResponse{
				Code:    "RATE_LIMIT_EXCEEDED",
				Message: "Too many attempts. Please try again later.",
				Details: map[string]interface{}{"request_id": c.GetString("request_id")},
			})
			return
		}
		c.Next()
	}
}

// Size returns the number of tracked clients.
func (l *LoginLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
