package field

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/scheduler"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const threeBodies = `[
	{"id":"433","type":"NEO","a":1.458,"e":0.2227,"i":10.83,"Omega":304.3,"omega":178.9,"M":310.5,"period":643.2},
	{"id":"99942","type":"PHA","a":0.9224,"e":0.1911,"i":3.339,"Omega":203.96,"omega":126.6,"M":142.0,"period":323.6},
	{"id":"bad","type":"NEO","a":"?","e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":100}
]`

const fiveBodies = `[
	{"id":"a","a":1,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":365},
	{"id":"b","a":1.1,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":420},
	{"id":"c","a":1.2,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":480},
	{"id":"d","a":1.3,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":540},
	{"id":"e","a":1.4,"e":0.1,"i":1,"Omega":1,"omega":1,"M":1,"period":600}
]`

func population(t *testing.T, doc string) *neo.Population {
	t.Helper()
	records, err := neo.Parse(strings.NewReader(doc), testLogger())
	require.NoError(t, err)
	return neo.NewPopulation(records, "test", time.Now(), testLogger())
}

type harness struct {
	field  *Field
	wall   *simclock.MockWallClock
	clock  *simclock.Clock
	frames *cache.FrameCache
}

func newHarness(t *testing.T, updateHz float64) *harness {
	t.Helper()
	wall := simclock.NewMockWallClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock := simclock.New(100, 0, wall)
	frames := cache.NewFrameCache(16, testLogger())
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 2}, testLogger())
	f := New(Config{UpdateHz: updateHz, FrameHz: 60, Scale: 50}, clock, frames, prop, wall, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	f.start(ctx)
	t.Cleanup(func() {
		f.stop()
		cancel()
	})
	return &harness{field: f, wall: wall, clock: clock, frames: frames}
}

// stepUntil runs render frames, advancing the mock wall clock by advance per
// frame, until cond holds.
func (h *harness) stepUntil(t *testing.T, advance time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		h.field.step()
		h.wall.Advance(advance)
		time.Sleep(time.Millisecond)
	}
}

func TestFieldPublishesFrames(t *testing.T) {
	h := newHarness(t, 10)
	pop := population(t, threeBodies)
	h.field.Load(pop)
	assert.False(t, h.field.Ready())

	h.stepUntil(t, 10*time.Millisecond, func() bool { return h.frames.Latest() != nil })
	assert.True(t, h.field.Ready())

	fr := h.frames.Latest()
	assert.Equal(t, 3, fr.Bodies())
	assert.Equal(t, 100.0, fr.Days)
	assert.Equal(t, 1, fr.NonFinite, "the malformed body only")
	assert.Len(t, fr.Planets, 8)

	want := kepler.Position(pop.Body(0).Elements, 100)
	x, y, z := fr.At(0)
	assert.InDelta(t, want.X*50, float64(x), 1e-3)
	assert.InDelta(t, want.Y*50, float64(y), 1e-3)
	assert.InDelta(t, want.Z*50, float64(z), 1e-3)

	sel, err := h.field.Select("433")
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Index)
	assert.Equal(t, x, sel.X)

	_, err = h.field.Select("nope")
	assert.ErrorIs(t, err, neo.ErrNotFound)
}

func TestSelectBeforeFirstFrame(t *testing.T) {
	h := newHarness(t, 10)
	h.field.Load(population(t, threeBodies))

	_, err := h.field.Select("433")
	assert.ErrorIs(t, err, ErrNoFrame)
}

// TestSeekBypassesThrottle verifies a clock seek produces new positions even
// though the wall clock never advances past the update interval.
func TestSeekBypassesThrottle(t *testing.T) {
	h := newHarness(t, 1)
	h.field.Load(population(t, threeBodies))
	h.stepUntil(t, 0, func() bool { return h.frames.Latest() != nil })

	h.clock.Seek(5000)
	h.stepUntil(t, 0, func() bool { return h.frames.Latest().Days == 5000 })

	fr := h.frames.Latest()
	assert.Equal(t, uint64(1), fr.Generation)
	assert.Len(t, h.frames.Recent(10), 1, "trail must not span the seek")
}

// TestReloadPopulation verifies a new population replaces the old one without
// reusing its buffers or frames.
func TestReloadPopulation(t *testing.T) {
	h := newHarness(t, 10)
	h.field.Load(population(t, threeBodies))
	h.stepUntil(t, 10*time.Millisecond, func() bool { return h.frames.Latest() != nil })

	h.field.Load(population(t, fiveBodies))
	assert.False(t, h.field.Ready())

	h.stepUntil(t, 10*time.Millisecond, func() bool {
		fr := h.frames.Latest()
		return fr != nil && fr.Population == 2
	})
	assert.True(t, h.field.Ready())
	assert.Equal(t, 5, h.frames.Latest().Bodies())

	_, version := h.field.Population()
	assert.Equal(t, uint64(2), version)

	_, err := h.field.Select("433")
	assert.ErrorIs(t, err, neo.ErrNotFound)
	_, err = h.field.Select("e")
	assert.NoError(t, err)
}

// TestDegradedWithoutWorker verifies the field keeps publishing planet-only
// frames when the worker is gone.
func TestDegradedWithoutWorker(t *testing.T) {
	h := newHarness(t, 10)
	h.field.client.Close()
	h.field.Load(population(t, threeBodies))

	h.field.step()
	assert.True(t, h.field.Degraded())
	assert.False(t, h.field.Ready())

	h.wall.Advance(time.Second)
	h.field.step()

	fr := h.frames.Latest()
	require.NotNil(t, fr)
	assert.Zero(t, fr.Bodies())
	assert.Len(t, fr.Planets, 8)
}

// TestWorkerCrashMidBatch verifies a worker that dies with a request in
// flight puts the field in degraded mode, and that the next population load
// starts a fresh worker.
func TestWorkerCrashMidBatch(t *testing.T) {
	h := newHarness(t, 1)
	h.field.Load(population(t, threeBodies))
	h.stepUntil(t, 0, func() bool { return h.frames.Latest() != nil })
	require.True(t, h.field.Ready())

	// Ragged arrays make the next batch panic inside the worker.
	ragged := &propagation.ElementArrays{A: []float64{1, 1, 1}}
	require.NoError(t, h.field.client.TrySend(worker.Init{Elements: ragged}))
	h.clock.Seek(250)
	h.field.step()
	assert.Equal(t, scheduler.InFlight, h.field.sched.State())

	select {
	case <-h.field.client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	h.stepUntil(t, 0, h.field.Degraded)
	assert.False(t, h.field.Ready())

	h.wall.Advance(time.Second)
	h.field.step()
	fr := h.frames.Latest()
	require.NotNil(t, fr)
	assert.Zero(t, fr.Bodies(), "planets only while degraded")
	assert.Len(t, fr.Planets, 8)

	h.field.Load(population(t, fiveBodies))
	h.stepUntil(t, 0, func() bool {
		fr := h.frames.Latest()
		return fr != nil && fr.Population == 2 && fr.Bodies() == 5
	})
	assert.False(t, h.field.Degraded())
	assert.True(t, h.field.Ready())
}

func TestSinkApplyReturnsPrevious(t *testing.T) {
	var s sink
	a := propagation.NewPositionBuffer(2)
	b := propagation.NewPositionBuffer(2)

	assert.Nil(t, s.apply(a, 1))
	assert.Same(t, a, s.apply(b, 2))
	assert.Equal(t, 2.0, s.days)

	s.reset()
	assert.Nil(t, s.live)
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := simclock.New(0, 1, nil)
	frames := cache.NewFrameCache(4, testLogger())
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 1}, testLogger())
	f := New(Config{FrameHz: 200}, clock, frames, prop, nil, testLogger())
	f.Load(population(t, fiveBodies))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, f.Ready, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
