package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleEviction  = 10 * time.Minute
)

type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Throttle enforces a per-client token bucket keyed by client IP. Paths in
// the exempt set (probes, scrapers) bypass the limiter entirely. Idle
// clients are swept out during acquisition rather than by a background
// goroutine, so an idle process holds no timer.
type Throttle struct {
	rps    rate.Limit
	burst  int
	exempt map[string]struct{}

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

// NewThrottle creates a Throttle allowing rps steady-state requests per
// second with the given burst. exempt lists request paths that are never
// throttled.
func NewThrottle(rps, burst int, exempt ...string) *Throttle {
	t := &Throttle{
		rps:       rate.Limit(rps),
		burst:     burst,
		exempt:    make(map[string]struct{}, len(exempt)),
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
	}
	for _, p := range exempt {
		t.exempt[p] = struct{}{}
	}
	return t
}

// Middleware returns the Gin middleware enforcing the throttle.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := t.exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		if !t.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (t *Throttle) allow(ip string) bool {
	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.lastSweep) > limiterSweepInterval {
		for key, cl := range t.clients {
			if now.Sub(cl.lastSeen) > limiterIdleEviction {
				delete(t.clients, key)
			}
		}
		t.lastSweep = now
	}
	cl, ok := t.clients[ip]
	if !ok {
		cl = &clientLimiter{bucket: rate.NewLimiter(t.rps, t.burst)}
		t.clients[ip] = cl
	}
	cl.lastSeen = now
	t.mu.Unlock()

	return cl.bucket.Allow()
}

// BodyLimit returns a Gin middleware capping request body size at maxBytes.
// Oversized bodies surface to handlers as read errors, which the binding
// layer turns into 400 responses.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
