package tick

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRate_Normalize(t *testing.T) {
	engineRate := 50 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, Rate{Unit: UnitMilliseconds, Value: 100}.Normalize(engineRate))
	assert.Equal(t, 2*time.Second, Rate{Unit: UnitSeconds, Value: 2}.Normalize(engineRate))
	assert.Equal(t, 150*time.Millisecond, Rate{Unit: UnitTicks, Value: 3}.Normalize(engineRate))
}

func TestEngine_ScheduleTaskRejectsFasterThanEngineRate(t *testing.T) {
	e := New(Options{EngineRate: 50 * time.Millisecond})
	err := e.ScheduleTask("too-fast", Rate{Unit: UnitMilliseconds, Value: 10}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestEngine_ScheduleTaskRejectsDuplicateID(t *testing.T) {
	e := New(Options{EngineRate: 10 * time.Millisecond})
	require.NoError(t, e.ScheduleTask("job", Rate{Unit: UnitMilliseconds, Value: 10}, func(context.Context) error { return nil }))
	err := e.ScheduleTask("job", Rate{Unit: UnitMilliseconds, Value: 10}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

// SendTask("k", d1) then SendTask("k", d2) before the executor begins — on
// this tick the executed delegate is d2, exactly once.
func TestEngine_SendTaskDedupKeepsLatestDelegate(t *testing.T) {
	e := New(Options{EngineRate: 5 * time.Millisecond})

	var d1Calls, d2Calls atomic.Int32
	e.SendTask("k", func(context.Context) error { d1Calls.Add(1); return nil })
	e.SendTask("k", func(context.Context) error { d2Calls.Add(1); return nil })

	e.launchDynamic(context.Background())
	waitFor(t, func() bool { return d2Calls.Load() == 1 })

	assert.Equal(t, int32(0), d1Calls.Load())
	assert.Equal(t, int32(1), d2Calls.Load())
}

// While a previous dynamic execution for a key is still running, a new
// SendTask for that key is dropped rather than queued.
func TestEngine_SendTaskDropsWhileBusy(t *testing.T) {
	e := New(Options{EngineRate: 5 * time.Millisecond})

	release := make(chan struct{})
	started := make(chan struct{})
	var secondCalls atomic.Int32

	e.SendTask("k", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	e.launchDynamic(context.Background())
	<-started

	e.SendTask("k", func(context.Context) error { secondCalls.Add(1); return nil })
	e.launchDynamic(context.Background())

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), secondCalls.Load())
}

func TestEngine_StaticTaskSkippedWhileInFlight(t *testing.T) {
	e := New(Options{EngineRate: time.Millisecond})

	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, e.ScheduleTask("job", Rate{Unit: UnitMilliseconds, Value: 1}, func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}))

	e.tick(context.Background(), time.Millisecond)
	waitFor(t, func() bool { return calls.Load() == 1 })

	// A second tick arriving before the first execution finishes must not
	// launch a second overlapping execution.
	e.tick(context.Background(), time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
}

func TestEngine_CurrentTickAdvancesOncePerTick(t *testing.T) {
	e := New(Options{EngineRate: time.Millisecond})
	e.tick(context.Background(), time.Millisecond)
	e.tick(context.Background(), time.Millisecond)
	assert.Equal(t, int64(2), e.CurrentTick())
}

func TestEngine_RegisterCronRejectsInvalidSpec(t *testing.T) {
	e := New(Options{EngineRate: time.Millisecond})
	err := e.RegisterCron(context.Background(), "not a cron spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestEngine_RunPhysicsStepsWorld(t *testing.T) {
	e := New(Options{EngineRate: time.Millisecond, PhysicsRate: 2 * time.Millisecond})
	var calls atomic.Int32
	e.SetWorldStepper(stepperFunc(func(dt float64) { calls.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.RunPhysics(ctx)
	}()

	waitFor(t, func() bool { return calls.Load() > 0 })
	cancel()
	wg.Wait()
}

type stepperFunc func(dt float64)

func (f stepperFunc) Step(dt float64) { f(dt) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}
