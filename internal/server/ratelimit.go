package server

import (
	"net/http"
	"sync"
	"time"

	"meeting-live/internal/apperr"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle       = 10 * time.Minute
	limiterPruneAbove = 4096
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per action and client address.
type rateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return &rateLimiter{limit: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *rateLimiter) allow(key string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > limiterPruneAbove {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) > limiterIdle {
				delete(l.entries, k)
			}
		}
	}
	entry := l.entries[key]
	if entry == nil {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) enforceRateLimit(c *gin.Context, action string) bool {
	if s.limiter.allow(action + ":" + c.ClientIP()) {
		return true
	}
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": "too many requests, slow down",
		"code":  apperr.CodeRateLimited,
	})
	return false
}
