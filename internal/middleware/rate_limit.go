package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
	"github.com/kestrelhq/chatgate/pkg/redis"
)

// RateLimiter enforces a fixed-window request limit per caller. Counters
// live in Redis when it is available so the limit holds across instances;
// otherwise a process-local window applies.
type RateLimiter struct {
	redis     *redis.Client
	limit     int64
	window    time.Duration
	mu        sync.Mutex
	local     map[string]*localWindow
	lastSweep time.Time
}

type localWindow struct {
	count   int64
	resetAt time.Time
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  rdb,
		limit:  int64(limit),
		window: window,
		local:  make(map[string]*localWindow),
	}
}

// Limit is the gin middleware. The window key is the authenticated user when
// present, the client IP otherwise.
func (r *RateLimiter) Limit() gin.HandlerFunc {
	if r.limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := ctxutil.GetUserID(c.Request.Context())
		if key == "" {
			key = c.ClientIP()
		}

		count, err := r.incr(c, key)
		if err != nil {
			// limiter trouble never blocks traffic
			logger.WarnWithContext(c.Request.Context(), "rate limiter unavailable").Err(err).Log()
			c.Next()
			return
		}

		if count > r.limit {
			c.Header("Retry-After", fmt.Sprintf("%d", int(r.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				constants.BuildErrorResponse("Too many requests", ""))
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) incr(c *gin.Context, key string) (int64, error) {
	if r.redis != nil && r.redis.IsEnabled() {
		return r.redis.IncrWindow(c.Request.Context(), "ratelimit:"+key, r.window)
	}
	return r.incrLocal(key), nil
}

func (r *RateLimiter) incrLocal(key string) int64 {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	// drop stale windows occasionally so the map stays bounded
	if now.Sub(r.lastSweep) > r.window {
		for k, w := range r.local {
			if now.After(w.resetAt) {
				delete(r.local, k)
			}
		}
		r.lastSweep = now
	}

	w, ok := r.local[key]
	if !ok || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(r.window)}
		r.local[key] = w
	}
	w.count++
	return w.count
}
