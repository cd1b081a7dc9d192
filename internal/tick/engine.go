// Package tick implements the tick engine: a deterministic loop running
// statically registered cyclic jobs at declared rates, a dynamic one-shot
// task table deduplicated by key, cron jobs, and a separately cadenced
// physics goroutine. The engine launches tasks and never awaits them.
package tick

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/internal/monitoring"
)

// Unit is the declared unit of a cyclic job's rate.
type Unit int

const (
	UnitTicks Unit = iota
	UnitMilliseconds
	UnitSeconds
)

// Rate is a cycle declaration in seconds, milliseconds, or engine ticks.
type Rate struct {
	Unit  Unit
	Value float64
}

// Normalize converts rate into a wall-clock duration, resolving UnitTicks
// against the engine's own rate.
func (r Rate) Normalize(engineRate time.Duration) time.Duration {
	switch r.Unit {
	case UnitSeconds:
		return time.Duration(r.Value * float64(time.Second))
	case UnitMilliseconds:
		return time.Duration(r.Value * float64(time.Millisecond))
	default: // UnitTicks
		return time.Duration(r.Value) * engineRate
	}
}

// WorldStepper is the physics-goroutine collaborator; the spatial package's
// GameWorldCoordinator satisfies this.
type WorldStepper interface {
	Step(deltaSeconds float64)
}

// Readiness is the subset of monitoring.Readiness the engine depends on —
// it only ever reads the tri-state lifecycle, pausing the loop whenever an
// external connection failure has marked the process not-Alive.
type Readiness interface {
	State() monitoring.State
}

type staticTask struct {
	id      string
	rate    time.Duration
	fn      func(ctx context.Context) error
	lastRun atomic.Int64 // unix nanos
	running atomic.Bool
}

// Engine is the process-global tick engine. CurrentTick is the frequency
// clock the sync metadata engine reads.
type Engine struct {
	engineRate  time.Duration
	physicsRate time.Duration

	currentTick   atomic.Int64
	lastTickNanos atomic.Int64 // wall clock of the latest loop iteration

	mu          sync.RWMutex
	staticTasks []*staticTask

	dynamicTasks   sync.Map // taskID string -> func(context.Context) error
	runningDynamic sync.Map // taskID string -> struct{}

	cron *cron.Cron

	readiness Readiness
	stepper   WorldStepper
	log       *logger.Logger
	metrics   *monitoring.Metrics
}

// Options configures a new Engine.
type Options struct {
	EngineRate  time.Duration
	PhysicsRate time.Duration // cadence of the physics goroutine, e.g. 1/15Hz
	Readiness   Readiness
	Log         *logger.Logger
	Metrics     *monitoring.Metrics
}

// New builds an Engine from opts, defaulting to a 50ms engine rate and a
// 15Hz physics cadence where unset.
func New(opts Options) *Engine {
	if opts.EngineRate <= 0 {
		opts.EngineRate = 50 * time.Millisecond
	}
	if opts.PhysicsRate <= 0 {
		opts.PhysicsRate = time.Second / 15
	}
	return &Engine{
		engineRate:  opts.EngineRate,
		physicsRate: opts.PhysicsRate,
		readiness:   opts.Readiness,
		log:         opts.Log,
		metrics:     opts.Metrics,
		cron:        cron.New(),
	}
}

// SetWorldStepper installs the collaborator the physics goroutine drives.
func (e *Engine) SetWorldStepper(s WorldStepper) { e.stepper = s }

// CurrentTick returns the process-global tick counter.
func (e *Engine) CurrentTick() int64 { return e.currentTick.Load() }

// LastTick returns the wall-clock time of the most recent engine-loop
// iteration, or the zero time if the loop hasn't advanced yet. Used as the
// heartbeat for the engine-loop readiness check.
func (e *Engine) LastTick() time.Time {
	n := e.lastTickNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ScheduleTask registers a static cyclic job running at rate, normalized
// against the engine's own rate. Registration fails if the task's rate is
// faster than the engine can poll for it.
func (e *Engine) ScheduleTask(id string, rate Rate, fn func(ctx context.Context) error) error {
	d := rate.Normalize(e.engineRate)
	if d < e.engineRate {
		return fmt.Errorf("tick: task %q rate %s is faster than the engine rate %s", id, d, e.engineRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.staticTasks {
		if t.id == id {
			return fmt.Errorf("tick: static task %q already registered", id)
		}
	}
	e.staticTasks = append(e.staticTasks, &staticTask{id: id, rate: d, fn: fn})
	return nil
}

// RegisterCron parses spec as a standard five-field cron expression and
// registers fn to run on every fire, wrapped by the same task-boundary error
// handling as every other task. Late fires are not backfilled — the robfig
// scheduler's own semantics already give us this.
func (e *Engine) RegisterCron(ctx context.Context, spec string, fn func(ctx context.Context) error) error {
	_, err := e.cron.AddFunc(spec, func() {
		e.runTask(ctx, "cron", fn)
	})
	if err != nil {
		return fmt.Errorf("tick: invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// SendTask enqueues a dynamic one-shot task keyed by taskID. A second
// SendTask for the same key within one engine iteration overwrites the
// first; if the prior execution for that key is still in flight when the
// loop visits it, the new enqueue is dropped rather than queued.
func (e *Engine) SendTask(taskID string, fn func(ctx context.Context) error) {
	e.dynamicTasks.Store(taskID, fn)
}

func (e *Engine) runTask(ctx context.Context, label string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.Error("tick task panicked", fmt.Errorf("%v", r), logger.Fields{"task": label})
			}
		}
	}()
	if err := fn(ctx); err != nil && e.log != nil {
		e.log.Error("tick task failed", errors.Wrap(err, "task delegate failed"), logger.Fields{"task": label})
	}
}

func (e *Engine) launchStatic(ctx context.Context, t *staticTask) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.lastRun.Store(time.Now().UnixNano())
	go func() {
		defer t.running.Store(false)
		e.runTask(ctx, "static:"+t.id, t.fn)
	}()
}

func (e *Engine) launchDynamic(ctx context.Context) {
	e.dynamicTasks.Range(func(k, v interface{}) bool {
		key := k.(string)
		fn := v.(func(ctx context.Context) error)
		e.dynamicTasks.Delete(key)

		if _, busy := e.runningDynamic.Load(key); busy {
			if e.metrics != nil {
				e.metrics.DroppedDynamicTask.Inc()
			}
			return true
		}
		e.runningDynamic.Store(key, struct{}{})
		go func() {
			defer e.runningDynamic.Delete(key)
			e.runTask(ctx, "dynamic:"+key, fn)
		}()
		return true
	})
}

// Run blocks, driving the engine loop until ctx is cancelled. It only
// advances ticks while readiness reports StateAlive — on Failed it pauses,
// resuming automatically once readiness returns to Alive.
func (e *Engine) Run(ctx context.Context) {
	e.cron.Start()
	defer e.cron.Stop()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if e.readiness != nil && e.readiness.State() != monitoring.StateAlive {
				lastTick = now
				continue
			}
			elapsed := now.Sub(lastTick)
			if elapsed < e.engineRate {
				continue
			}
			lastTick = now
			e.tick(ctx, elapsed)
		}
	}
}

func (e *Engine) tick(ctx context.Context, elapsed time.Duration) {
	start := time.Now()
	e.currentTick.Add(1)
	e.lastTickNanos.Store(start.UnixNano())

	e.mu.RLock()
	tasks := e.staticTasks
	e.mu.RUnlock()

	now := time.Now()
	for _, t := range tasks {
		if t.running.Load() {
			continue
		}
		if now.Sub(time.Unix(0, t.lastRun.Load())) >= t.rate {
			e.launchStatic(ctx, t)
		}
	}

	e.launchDynamic(ctx)

	if e.metrics != nil {
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// RunPhysics blocks, driving the physics goroutine until ctx is cancelled:
// sleeps ~1ms between checks, stepping the world at e.physicsRate with
// deltaSeconds measured from actual elapsed wall-clock time.
func (e *Engine) RunPhysics(ctx context.Context) {
	if e.stepper == nil {
		return
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if e.readiness != nil && e.readiness.State() != monitoring.StateAlive {
				last = now
				continue
			}
			elapsed := now.Sub(last)
			if elapsed < e.physicsRate {
				continue
			}
			last = now
			e.stepper.Step(elapsed.Seconds())
		}
	}
}
