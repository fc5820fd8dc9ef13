// Package scheduler throttles compute requests from the render loop to the
// worker: at most one request in flight, at most updateHz requests per wall
// second, and an immediate request after a time discontinuity.
package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Nolaskote/Simulation/internal/metrics"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/worker"
)

// DefaultUpdateHz is the request rate used when none is configured.
const DefaultUpdateHz = 12

// Sender posts messages to the worker without blocking.
type Sender interface {
	TrySend(worker.Message) error
}

// Outcome is the result of one Tick.
type Outcome int

const (
	Requested Outcome = iota // a compute request was sent
	Throttled                // interval since the last request not yet elapsed
	Busy                     // a request is outstanding; tick dropped
	NotReady                 // worker has not acknowledged init; tick dropped
	Degraded                 // no worker; nothing will ever be computed
)

func (o Outcome) String() string {
	switch o {
	case Requested:
		return "requested"
	case Throttled:
		return "throttled"
	case Busy:
		return "busy"
	case NotReady:
		return "not_ready"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// Err maps dropping outcomes onto the worker sentinel errors.
func (o Outcome) Err() error {
	switch o {
	case Busy:
		return worker.ErrBusy
	case NotReady:
		return worker.ErrNotReady
	case Degraded:
		return worker.ErrClosed
	}
	return nil
}

// State is the scheduler's position in Idle -> Requesting -> Busy -> Idle.
// Requesting only exists inside Tick.
type State int

const (
	Idle State = iota
	Requesting
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case InFlight:
		return "busy"
	}
	return "unknown"
}

// Config holds scheduler configuration.
type Config struct {
	UpdateHz float64 // compute requests per wall second
	Scale    float64 // AU to scene units, passed through to the worker
}

// Scheduler is owned by the render loop goroutine and is not safe for
// concurrent use.
type Scheduler struct {
	sender Sender
	wall   simclock.WallClock
	logger *slog.Logger

	interval time.Duration
	scale    float64

	state      State
	lastUpdate time.Time // zero value forces the next request
	ready      bool
	degraded   bool
	seq        uint64
	spare      *propagation.PositionBuffer
}

// New creates a scheduler that sends through sender.
func New(sender Sender, cfg Config, wall simclock.WallClock, logger *slog.Logger) *Scheduler {
	if cfg.UpdateHz <= 0 {
		cfg.UpdateHz = DefaultUpdateHz
	}
	if wall == nil {
		wall = simclock.System()
	}
	return &Scheduler{
		sender:   sender,
		wall:     wall,
		logger:   logger,
		interval: time.Duration(float64(time.Second) / cfg.UpdateHz),
		scale:    cfg.Scale,
		degraded: sender == nil,
	}
}

// Interval returns the minimum wall time between requests.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Tick is called once per rendered frame with the current simulation time.
// It sends a compute request when the worker is ready, nothing is in flight,
// and either the interval has elapsed or a discontinuity was signalled.
func (s *Scheduler) Tick(simDays float64) Outcome {
	if s.degraded {
		metrics.IncTicksDropped("degraded")
		return Degraded
	}
	if s.state == InFlight {
		metrics.IncTicksDropped("busy")
		return Busy
	}
	if !s.ready {
		metrics.IncTicksDropped("not_ready")
		return NotReady
	}

	now := s.wall.Now()
	if !s.lastUpdate.IsZero() && now.Sub(s.lastUpdate) < s.interval {
		return Throttled
	}

	s.state = Requesting
	msg := worker.Compute{
		Seq:    s.seq + 1,
		Time:   simDays,
		Scale:  s.scale,
		Buffer: s.spare.Transfer(),
	}
	s.spare = nil

	if err := s.sender.TrySend(msg); err != nil {
		s.state = Idle
		s.spare = msg.Buffer
		if errors.Is(err, worker.ErrClosed) {
			s.logger.Error("worker unavailable, entering degraded mode", "component", "scheduler", "error", err)
			s.SetDegraded(true)
			return Degraded
		}
		metrics.IncTicksDropped("busy")
		return Busy
	}

	s.seq = msg.Seq
	s.lastUpdate = now
	s.state = InFlight
	metrics.IncComputeRequests()
	return Requested
}

// Discontinuity makes the next Tick bypass the throttle. An outstanding
// request is not cancelled.
func (s *Scheduler) Discontinuity() {
	s.lastUpdate = time.Time{}
}

// Deliver consumes a worker message. It returns the positions when msg is
// the result of the outstanding request; anything else is ignored.
func (s *Scheduler) Deliver(msg worker.Message) (worker.Positions, bool) {
	switch m := msg.(type) {
	case worker.Ready:
		s.ready = true
		s.logger.Info("worker ready", "component", "scheduler", "body_count", m.Bodies)
		return worker.Positions{}, false

	case worker.Positions:
		if s.state != InFlight || m.Seq != s.seq {
			metrics.IncStaleResults()
			s.logger.Debug("stale positions ignored", "component", "scheduler", "seq", m.Seq, "want", s.seq)
			return worker.Positions{}, false
		}
		s.state = Idle
		return m, true
	}

	metrics.IncStaleResults()
	if msg != nil {
		s.logger.Debug("unexpected message ignored", "component", "scheduler", "type", string(msg.Type()))
	}
	return worker.Positions{}, false
}

// Recycle hands back a buffer the render side no longer reads, to be moved
// to the worker with the next request.
func (s *Scheduler) Recycle(buf *propagation.PositionBuffer) {
	if buf.Detached() {
		return
	}
	s.spare = buf.Transfer()
}

// Reset returns to Idle for a new population: not ready until the next
// Ready, no spare buffer, and an immediate request once ready. Results of
// requests sent before Reset are treated as stale.
func (s *Scheduler) Reset() {
	s.state = Idle
	s.ready = false
	s.spare = nil
	s.lastUpdate = time.Time{}
}

// Rebind attaches a replacement worker. The new worker knows nothing of
// earlier requests, so the scheduler is Reset; a nil sender stays degraded.
func (s *Scheduler) Rebind(sender Sender) {
	s.sender = sender
	s.Reset()
	s.SetDegraded(sender == nil)
}

// SetDegraded switches degraded mode on or off.
func (s *Scheduler) SetDegraded(degraded bool) {
	s.degraded = degraded
	metrics.SetWorkerDegraded(degraded)
}

func (s *Scheduler) State() State { return s.state }
func (s *Scheduler) Ready() bool { return s.ready }
func (s *Scheduler) Degraded() bool { return s.degraded }
func (s *Scheduler) LastUpdate() time.Time { return s.lastUpdate }
