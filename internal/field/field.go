// Package field runs the render-side loop of the simulation: it owns the
// worker client and the update scheduler, applies position results, tracks
// clock discontinuities, and publishes frames for readers.
package field

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/ephem"
	"github.com/Nolaskote/Simulation/internal/metrics"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/scheduler"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/worker"
)

// ErrNoFrame is returned by Select before the first frame of the current
// population has been published.
var ErrNoFrame = errors.New("field: no positions yet")

// Config holds field configuration.
type Config struct {
	UpdateHz float64 // compute requests per second
	FrameHz  float64 // render loop rate
	Scale    float64 // scene units per AU
}

type loadRequest struct {
	pop     *neo.Population
	version uint64
}

// Field is the rendering-side orchestrator. Run drives it on one goroutine;
// the other methods are safe to call from any goroutine.
type Field struct {
	cfg    Config
	clock  *simclock.Clock
	wall   simclock.WallClock
	frames *cache.FrameCache
	prop   *propagation.Propagator
	logger *slog.Logger

	mu      sync.RWMutex // guards pop, version, pending
	pop     *neo.Population
	version uint64
	pending *loadRequest

	ready    atomic.Bool
	degraded atomic.Bool

	// Owned by the render goroutine.
	ctx          context.Context
	client       *worker.Client
	sched        *scheduler.Scheduler
	sink         sink
	current      uint64 // population version the worker was initialized with
	lastGen      uint64
	degradedAt   uint64 // population version when the worker was lost
	requestGen   uint64
	lastPublish  time.Time
	planetBuffer []ephem.State
}

// New creates a field. Call Load and Run to start it.
func New(cfg Config, clock *simclock.Clock, frames *cache.FrameCache, prop *propagation.Propagator, wall simclock.WallClock, logger *slog.Logger) *Field {
	if cfg.UpdateHz <= 0 {
		cfg.UpdateHz = scheduler.DefaultUpdateHz
	}
	if cfg.FrameHz <= 0 {
		cfg.FrameHz = 60
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if wall == nil {
		wall = simclock.System()
	}
	return &Field{
		cfg:    cfg,
		clock:  clock,
		wall:   wall,
		frames: frames,
		prop:   prop,
		logger: logger,
	}
}

// Load replaces the population. The switch happens on the render goroutine
// at its next frame; a pending load that was not yet applied is superseded.
func (f *Field) Load(pop *neo.Population) {
	f.mu.Lock()
	f.version++
	f.pop = pop
	f.pending = &loadRequest{pop: pop, version: f.version}
	version := f.version
	f.mu.Unlock()

	f.ready.Store(false)

	stats := pop.Stats()
	metrics.SetPopulationBodies(string(neo.ClassPHA), stats.PHA)
	metrics.SetPopulationBodies(string(neo.ClassNEO), stats.NEO)
	metrics.SetPopulationBodies(string(neo.ClassPlanet), stats.Planets)

	f.logger.Info("population queued",
		"component", "field",
		"source", pop.Source,
		"body_count", pop.Len(),
		"version", version,
	)
}

// Population returns the current population and its version.
func (f *Field) Population() (*neo.Population, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pop, f.version
}

// Clock returns the simulation clock.
func (f *Field) Clock() *simclock.Clock { return f.clock }

// Frames returns the frame cache.
func (f *Field) Frames() *cache.FrameCache { return f.frames }

// Scale returns scene units per AU.
func (f *Field) Scale() float64 { return f.cfg.Scale }

// Ready reports whether the worker has acknowledged the current population.
func (f *Field) Ready() bool { return f.ready.Load() }

// Degraded reports whether the field runs without a worker.
func (f *Field) Degraded() bool { return f.degraded.Load() }

// Run starts the worker and drives the frame loop until ctx is cancelled.
func (f *Field) Run(ctx context.Context) error {
	f.start(ctx)
	defer f.stop()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / f.cfg.FrameHz))
	defer ticker.Stop()

	f.logger.Info("field running",
		"component", "field",
		"frame_hz", f.cfg.FrameHz,
		"update_hz", f.cfg.UpdateHz,
	)

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("field stopped", "component", "field")
			return nil
		case <-ticker.C:
			f.step()
		}
	}
}

// start creates the worker client and scheduler.
func (f *Field) start(ctx context.Context) {
	f.ctx = ctx
	f.client = worker.NewClient(f.prop, worker.Config{}, f.logger)
	var sender scheduler.Sender = f.client
	if err := f.client.Start(ctx); err != nil {
		f.logger.Error("worker failed to start", "component", "field", "error", err)
		sender = nil
	}
	f.sched = scheduler.New(sender, scheduler.Config{UpdateHz: f.cfg.UpdateHz, Scale: f.cfg.Scale}, f.wall, f.logger)
	f.setDegraded(f.sched.Degraded())
	if f.sched.Degraded() {
		f.markDegradedAt()
	}
	f.lastGen = f.clock.Generation()
}

func (f *Field) stop() {
	if f.client != nil {
		f.client.Close()
	}
}

// step runs one render frame.
func (f *Field) step() {
	f.watchWorker()
	f.applyPendingLoad()

	sample := f.clock.Sample()
	if sample.Generation != f.lastGen {
		f.lastGen = sample.Generation
		f.sched.Discontinuity()
	}

	f.drain()

	switch outcome := f.sched.Tick(sample.Days); outcome {
	case scheduler.Requested:
		f.requestGen = sample.Generation
	case scheduler.Degraded:
		f.setDegraded(true)
		f.publishPlanetsOnly(sample)
	}
}

// applyPendingLoad sends Init for a queued population.
func (f *Field) applyPendingLoad() {
	f.mu.Lock()
	req := f.pending
	f.mu.Unlock()
	if req == nil {
		return
	}
	if f.sched.Degraded() {
		// Only a population loaded after the worker was lost restarts it.
		if req.version <= f.degradedAt || !f.restartWorker() {
			return
		}
	}

	err := f.client.TrySend(worker.Init{Elements: req.pop.ElementArrays()})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrBusy):
		return // retried next frame
	default:
		f.logger.Error("worker unavailable for init", "component", "field", "error", err)
		f.enterDegraded()
		return
	}

	f.mu.Lock()
	if f.pending == req {
		f.pending = nil
	}
	f.mu.Unlock()

	f.sched.Reset()
	f.sink.reset()
	f.frames.Reset()
	f.current = req.version
	f.ready.Store(false)
}

// drain consumes every message the worker has produced so far.
func (f *Field) drain() {
	for {
		select {
		case msg := <-f.client.Messages():
			pos, ok := f.sched.Deliver(msg)
			if _, isReady := msg.(worker.Ready); isReady {
				f.markReady()
			}
			if ok {
				f.apply(pos)
			}
		default:
			return
		}
	}
}

func (f *Field) markReady() {
	f.mu.RLock()
	latest := f.version == f.current && f.pending == nil
	f.mu.RUnlock()
	if latest && !f.degraded.Load() {
		f.ready.Store(true)
	}
}

// apply installs a result, recycles the previous buffer, and publishes a
// frame.
func (f *Field) apply(pos worker.Positions) {
	prev := f.sink.apply(pos.Buffer, pos.Time)
	f.sched.Recycle(prev)

	f.planetBuffer = ephem.Positions(pos.Time, f.planetBuffer)
	f.frames.Put(&cache.Frame{
		Days:       pos.Time,
		Generation: f.requestGen,
		Population: f.current,
		Scale:      f.cfg.Scale,
		Positions:  pos.Buffer.CopyTo(nil),
		NonFinite:  pos.Stats.NonFinite,
		Planets:    append([]ephem.State(nil), f.planetBuffer...),
		ComputedAt: f.wall.Now(),
	})
	f.lastPublish = f.wall.Now()
}

// publishPlanetsOnly keeps planets moving when no worker is available.
func (f *Field) publishPlanetsOnly(sample simclock.Sample) {
	now := f.wall.Now()
	if now.Sub(f.lastPublish) < f.sched.Interval() {
		return
	}
	f.lastPublish = now
	f.frames.Put(&cache.Frame{
		Days:       sample.Days,
		Generation: sample.Generation,
		Population: f.current,
		Scale:      f.cfg.Scale,
		Planets:    ephem.Positions(sample.Days, nil),
		ComputedAt: now,
	})
}

// watchWorker notices a worker goroutine that exited on its own, such as
// after a panic in a batch. Its outstanding request will never be answered.
func (f *Field) watchWorker() {
	if f.sched.Degraded() {
		return
	}
	select {
	case <-f.client.Done():
		f.logger.Error("worker exited", "component", "field", "state", f.sched.State().String())
		f.enterDegraded()
	default:
	}
}

// restartWorker replaces a lost worker with a fresh one.
func (f *Field) restartWorker() bool {
	client := worker.NewClient(f.prop, worker.Config{}, f.logger)
	if err := client.Start(f.ctx); err != nil {
		f.logger.Error("worker restart failed", "component", "field", "error", err)
		f.markDegradedAt()
		return false
	}
	f.client.Close()
	f.client = client
	f.sched.Rebind(client)
	f.setDegraded(false)
	f.logger.Info("worker restarted", "component", "field")
	return true
}

func (f *Field) enterDegraded() {
	f.sched.SetDegraded(true)
	f.setDegraded(true)
	f.ready.Store(false)
	f.markDegradedAt()
}

func (f *Field) markDegradedAt() {
	f.mu.RLock()
	f.degradedAt = f.version
	f.mu.RUnlock()
}

func (f *Field) setDegraded(degraded bool) {
	if f.degraded.Swap(degraded) != degraded && degraded {
		f.logger.Error("field degraded: positions will not update", "component", "field")
	}
	metrics.SetWorkerDegraded(degraded)
}

// Selection is one body's latest published position.
type Selection struct {
	Index int
	Body  neo.Body
	Days  float64
	X     float32
	Y     float32
	Z     float32
}

// Select looks up a body by id in O(1) and returns its position from the
// newest frame.
func (f *Field) Select(id neo.ID) (Selection, error) {
	pop, version := f.Population()
	i, err := pop.Lookup(id)
	if err != nil {
		return Selection{}, err
	}

	fr := f.frames.Latest()
	if fr == nil || fr.Population != version || i >= fr.Bodies() {
		return Selection{}, fmt.Errorf("%w for %s", ErrNoFrame, id)
	}

	x, y, z := fr.At(i)
	return Selection{
		Index: i,
		Body:  pop.Body(i),
		Days:  fr.Days,
		X:     x,
		Y:     y,
		Z:     z,
	}, nil
}
