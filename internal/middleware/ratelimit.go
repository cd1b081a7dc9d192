// internal/middleware/ratelimit.go
package middleware

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnRateLimitOptions configures the connection-accept limiter.
type ConnRateLimitOptions struct {
	Enabled bool
	RPS     float64       // requests per second
	Burst   int           // token bucket burst
	TTL     time.Duration // idle TTL per client key (e.g. 10m)
	Cleanup time.Duration // cleanup interval (e.g. 1m)
}

type clientLimiter struct {
	Limiter  *rate.Limiter
	LastSeen time.Time
}

// ConnRateLimiter gates WebSocket handshake attempts per remote address before
// a connection is ever registered in the store, so handshake floods never
// reach the Connection Store or the Tick Engine.
type ConnRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	opts    ConnRateLimitOptions
	stopCh  chan struct{}
}

// NewConnRateLimiter builds a limiter and starts its TTL-eviction goroutine.
func NewConnRateLimiter(opts ConnRateLimitOptions) *ConnRateLimiter {
	if opts.RPS <= 0 {
		opts.RPS = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.Cleanup <= 0 {
		opts.Cleanup = time.Minute
	}

	l := &ConnRateLimiter{
		clients: make(map[string]*clientLimiter),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
	if opts.Enabled {
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether a handshake from remoteAddr may proceed, and if not,
// the duration the caller should wait before retrying (computed via a
// cancelled reservation, so the rejected attempt never consumes a token).
func (l *ConnRateLimiter) Allow(remoteAddr string) (ok bool, retryAfter time.Duration) {
	if !l.opts.Enabled {
		return true, 0
	}

	key := hostOnly(remoteAddr)
	lim := l.getLimiter(key)

	if lim.Allow() {
		return true, 0
	}

	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(time.Now())
	r.Cancel()
	if delay <= 0 {
		delay = time.Second
	}
	return false, delay
}

func (l *ConnRateLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cl, ok := l.clients[key]; ok {
		cl.LastSeen = time.Now()
		return cl.Limiter
	}

	lim := rate.NewLimiter(rate.Limit(l.opts.RPS), l.opts.Burst)
	l.clients[key] = &clientLimiter{Limiter: lim, LastSeen: time.Now()}
	return lim
}

func (l *ConnRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.opts.Cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *ConnRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for k, v := range l.clients {
		if now.Sub(v.LastSeen) > l.opts.TTL {
			delete(l.clients, k)
		}
	}
}

// Stop halts the cleanup goroutine.
func (l *ConnRateLimiter) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

func hostOnly(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i != -1 {
		return remoteAddr[:i]
	}
	return remoteAddr
}
