// internal/monitoring/readiness.go
package monitoring

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/pkg/response"
)

// State is the process's tri-state readiness lifecycle.
type State int32

const (
	StateStarting State = iota
	StateAlive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateFailed:
		return "failed"
	default:
		return "starting"
	}
}

// ComponentCheck is one named dependency probed on every readiness poll.
type ComponentCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ComponentResult is the cached outcome of one ComponentCheck.
type ComponentResult struct {
	OK          bool      `json:"ok"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Readiness tracks the process's tri-state lifecycle and the underlying
// component health that drives it. A 503 is returned by Middleware whenever
// the state isn't Alive.
type Readiness struct {
	state   atomic.Int32
	log     *logger.Logger
	started time.Time

	checks        []ComponentCheck
	cacheDuration time.Duration

	mu      sync.RWMutex
	results map[string]ComponentResult
	lastRun time.Time
}

// NewReadiness constructs a Readiness tracker starting in StateStarting.
func NewReadiness(log *logger.Logger, checks ...ComponentCheck) *Readiness {
	r := &Readiness{
		log:           log,
		started:       time.Now(),
		checks:        checks,
		cacheDuration: 5 * time.Second,
		results:       make(map[string]ComponentResult),
	}
	r.state.Store(int32(StateStarting))
	return r
}

// State returns the current readiness state.
func (r *Readiness) State() State {
	return State(r.state.Load())
}

// AddCheck registers an additional component check after construction, for
// components built later in the boot sequence (e.g. the tick engine's
// heartbeat).
func (r *Readiness) AddCheck(c ComponentCheck) {
	r.mu.Lock()
	r.checks = append(r.checks, c)
	r.mu.Unlock()
}

// Set transitions the readiness state, logging the transition.
func (r *Readiness) Set(s State, reason string) {
	old := State(r.state.Swap(int32(s)))
	if old != s && r.log != nil {
		r.log.LogReadinessEvent(old.String(), s.String(), reason)
	}
}

// runChecks runs every registered ComponentCheck concurrently, caching the
// results for cacheDuration instead of recomputing on every poll.
func (r *Readiness) runChecks(ctx context.Context) map[string]ComponentResult {
	r.mu.RLock()
	if time.Since(r.lastRun) < r.cacheDuration && len(r.results) > 0 {
		defer r.mu.RUnlock()
		out := make(map[string]ComponentResult, len(r.results))
		for k, v := range r.results {
			out[k] = v
		}
		return out
	}
	r.mu.RUnlock()

	r.mu.RLock()
	checks := make([]ComponentCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	out := make(map[string]ComponentResult, len(checks))
	var mu sync.Mutex

	for _, c := range checks {
		wg.Add(1)
		go func(c ComponentCheck) {
			defer wg.Done()
			res := ComponentResult{OK: true, LastChecked: time.Now()}
			if err := c.Check(checkCtx); err != nil {
				res.OK = false
				res.Message = err.Error()
			}
			mu.Lock()
			out[c.Name] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	r.mu.Lock()
	r.results = out
	r.lastRun = time.Now()
	r.mu.Unlock()

	return out
}

// Middleware aborts any request with 503 whenever readiness isn't Alive.
func (r *Readiness) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.State() != StateAlive {
			response.CustomError(c, http.StatusServiceUnavailable, "NOT_READY", "service not ready", r.State().String())
			c.Abort()
			return
		}
		c.Next()
	}
}

// ReadyHandler serves /readyz: runs component checks, reports 503 if any
// fail or if the process itself hasn't reached StateAlive.
func (r *Readiness) ReadyHandler(c *gin.Context) {
	results := r.runChecks(c.Request.Context())

	allOK := r.State() == StateAlive
	for _, res := range results {
		if !res.OK {
			allOK = false
		}
	}

	payload := gin.H{
		"status":     r.State().String(),
		"components": results,
		"uptime_s":   time.Since(r.started).Seconds(),
	}
	if !allOK {
		response.CustomError(c, http.StatusServiceUnavailable, "NOT_READY", "service not ready", r.State().String())
		return
	}
	response.Success(c, payload)
}

// HealthHandler serves /healthz with the same payload as ReadyHandler but
// always 200s — intended for dashboards, not load balancer gating.
func (r *Readiness) HealthHandler(c *gin.Context) {
	results := r.runChecks(c.Request.Context())
	response.Success(c, gin.H{
		"status":     r.State().String(),
		"components": results,
		"uptime_s":   time.Since(r.started).Seconds(),
	})
}

// LiveHandler serves /livez: reports the process is up at all, regardless of
// dependency health (distinguishing "process alive" from "ready to serve").
func (r *Readiness) LiveHandler(c *gin.Context) {
	response.Success(c, gin.H{
		"status":   "alive",
		"uptime_s": time.Since(r.started).Seconds(),
	})
}
