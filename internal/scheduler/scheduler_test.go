package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeSender records sent messages and can simulate a full or dead worker.
type fakeSender struct {
	sent []worker.Message
	err  error
}

func (f *fakeSender) TrySend(msg worker.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) computes() []worker.Compute {
	var out []worker.Compute
	for _, m := range f.sent {
		if c, ok := m.(worker.Compute); ok {
			out = append(out, c)
		}
	}
	return out
}

func newReady(t *testing.T, hz float64) (*Scheduler, *fakeSender, *simclock.MockWallClock) {
	t.Helper()
	sender := &fakeSender{}
	wall := simclock.NewMockWallClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s := New(sender, Config{UpdateHz: hz, Scale: 50}, wall, testLogger())
	s.Deliver(worker.Ready{Bodies: 10})
	require.True(t, s.Ready())
	return s, sender, wall
}

// complete answers the outstanding request.
func complete(t *testing.T, s *Scheduler, sender *fakeSender) worker.Positions {
	t.Helper()
	cs := sender.computes()
	require.NotEmpty(t, cs)
	last := cs[len(cs)-1]
	pos, ok := s.Deliver(worker.Positions{Seq: last.Seq, Time: last.Time, Buffer: propagation.NewPositionBuffer(10)})
	require.True(t, ok)
	return pos
}

func TestInterval(t *testing.T) {
	hz := 12.0
	s := New(&fakeSender{}, Config{UpdateHz: hz}, nil, testLogger())
	assert.Equal(t, time.Duration(float64(time.Second)/hz), s.Interval())

	s = New(&fakeSender{}, Config{}, nil, testLogger())
	assert.Equal(t, time.Second/DefaultUpdateHz, s.Interval())
}

func TestNotReadyDropsTicks(t *testing.T) {
	sender := &fakeSender{}
	s := New(sender, Config{UpdateHz: 12}, simclock.NewMockWallClock(time.Now()), testLogger())

	assert.Equal(t, NotReady, s.Tick(0))
	assert.ErrorIs(t, s.Tick(0).Err(), worker.ErrNotReady)
	assert.Empty(t, sender.sent)
}

func TestFirstTickRequestsImmediately(t *testing.T) {
	s, sender, _ := newReady(t, 12)
	assert.Equal(t, Requested, s.Tick(42))

	cs := sender.computes()
	require.Len(t, cs, 1)
	assert.Equal(t, 42.0, cs[0].Time)
	assert.Equal(t, 50.0, cs[0].Scale)
	assert.Equal(t, InFlight, s.State())
}

// TestAtMostOneInFlight verifies ticks while busy are dropped and do not
// touch lastUpdate.
func TestAtMostOneInFlight(t *testing.T) {
	s, sender, wall := newReady(t, 12)
	require.Equal(t, Requested, s.Tick(0))
	sentAt := s.LastUpdate()

	for i := 0; i < 100; i++ {
		wall.Advance(16 * time.Millisecond)
		assert.Equal(t, Busy, s.Tick(float64(i)))
	}
	assert.Len(t, sender.computes(), 1)
	assert.Equal(t, sentAt, s.LastUpdate(), "dropped ticks must not touch lastUpdate")

	complete(t, s, sender)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, Requested, s.Tick(200), "interval already elapsed")
}

// TestThrottleRate drives 60 fps frames for ten seconds with instant results
// and checks the request rate never exceeds updateHz.
func TestThrottleRate(t *testing.T) {
	s, sender, wall := newReady(t, 12)
	frame := time.Second / 60

	var sendTimes []time.Time
	for i := 0; i < 600; i++ {
		if s.Tick(float64(i)) == Requested {
			sendTimes = append(sendTimes, wall.Now())
			complete(t, s, sender)
		}
		wall.Advance(frame)
	}

	for i := 1; i < len(sendTimes); i++ {
		assert.GreaterOrEqual(t, sendTimes[i].Sub(sendTimes[i-1]), s.Interval())
	}
	assert.LessOrEqual(t, len(sendTimes), 12*10+1)
	assert.GreaterOrEqual(t, len(sendTimes), 12*10/2)
}

// TestDiscontinuityBypassesThrottle verifies a seek forces the next request
// regardless of elapsed time.
func TestDiscontinuityBypassesThrottle(t *testing.T) {
	s, sender, wall := newReady(t, 1)
	require.Equal(t, Requested, s.Tick(0))
	complete(t, s, sender)

	wall.Advance(10 * time.Millisecond)
	assert.Equal(t, Throttled, s.Tick(1))

	s.Discontinuity()
	assert.Equal(t, Requested, s.Tick(5000))
	assert.Equal(t, 5000.0, sender.computes()[1].Time)
}

// TestDiscontinuityWhileBusy verifies a seek during an outstanding request
// waits for it, then requests immediately.
func TestDiscontinuityWhileBusy(t *testing.T) {
	s, sender, wall := newReady(t, 1)
	require.Equal(t, Requested, s.Tick(0))

	s.Discontinuity()
	assert.Equal(t, Busy, s.Tick(900))

	complete(t, s, sender)
	wall.Advance(time.Millisecond)
	assert.Equal(t, Requested, s.Tick(900))
}

func TestStaleResultsIgnored(t *testing.T) {
	s, sender, _ := newReady(t, 12)
	require.Equal(t, Requested, s.Tick(0))
	seq := sender.computes()[0].Seq

	_, ok := s.Deliver(worker.Positions{Seq: seq + 5})
	assert.False(t, ok, "seq mismatch")
	assert.Equal(t, InFlight, s.State())

	_, ok = s.Deliver(worker.Init{})
	assert.False(t, ok, "unexpected message type")

	_, ok = s.Deliver(nil)
	assert.False(t, ok)

	pos, ok := s.Deliver(worker.Positions{Seq: seq})
	assert.True(t, ok)
	assert.Equal(t, seq, pos.Seq)

	_, ok = s.Deliver(worker.Positions{Seq: seq})
	assert.False(t, ok, "duplicate result while idle")
}

// TestRecycledBufferTravelsWithRequest verifies ping-pong buffer reuse.
func TestRecycledBufferTravelsWithRequest(t *testing.T) {
	s, sender, wall := newReady(t, 12)
	require.Equal(t, Requested, s.Tick(0))
	assert.Nil(t, sender.computes()[0].Buffer, "nothing to recycle yet")
	complete(t, s, sender)

	old := propagation.NewPositionBuffer(10)
	s.Recycle(old)
	assert.True(t, old.Detached())

	wall.Advance(time.Second)
	require.Equal(t, Requested, s.Tick(1))
	buf := sender.computes()[1].Buffer
	require.NotNil(t, buf)
	assert.Equal(t, 10, buf.Bodies())
}

func TestBusySenderKeepsSpare(t *testing.T) {
	s, sender, _ := newReady(t, 12)
	s.Recycle(propagation.NewPositionBuffer(10))

	sender.err = worker.ErrBusy
	assert.Equal(t, Busy, s.Tick(0))
	assert.Equal(t, Idle, s.State())
	assert.True(t, s.LastUpdate().IsZero())

	sender.err = nil
	require.Equal(t, Requested, s.Tick(0))
	assert.NotNil(t, sender.computes()[0].Buffer, "spare must survive a failed send")
}

func TestClosedSenderDegrades(t *testing.T) {
	s, sender, _ := newReady(t, 12)
	sender.err = worker.ErrClosed

	assert.Equal(t, Degraded, s.Tick(0))
	assert.True(t, s.Degraded())

	sender.err = nil
	assert.Equal(t, Degraded, s.Tick(0), "degraded mode is sticky")
	assert.ErrorIs(t, s.Tick(0).Err(), worker.ErrClosed)

	s.SetDegraded(false)
	assert.Equal(t, Requested, s.Tick(0))
}

func TestNilSenderStartsDegraded(t *testing.T) {
	s := New(nil, Config{}, nil, testLogger())
	assert.True(t, s.Degraded())
	assert.Equal(t, Degraded, s.Tick(0))
}

// TestRebindLeavesInFlight verifies a replacement worker clears a request
// the dead worker will never answer.
func TestRebindLeavesInFlight(t *testing.T) {
	s, old, _ := newReady(t, 12)
	require.Equal(t, Requested, s.Tick(0))
	require.Equal(t, Busy, s.Tick(0))
	s.SetDegraded(true)

	fresh := &fakeSender{}
	s.Rebind(fresh)
	assert.False(t, s.Degraded())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, NotReady, s.Tick(0))

	s.Deliver(worker.Ready{Bodies: 10})
	assert.Equal(t, Requested, s.Tick(0))
	assert.Len(t, fresh.computes(), 1)
	assert.Len(t, old.computes(), 1)

	s.Rebind(nil)
	assert.True(t, s.Degraded())
}

// TestResetMakesOldResultsStale verifies a population change invalidates the
// outstanding request.
func TestResetMakesOldResultsStale(t *testing.T) {
	s, sender, _ := newReady(t, 12)
	require.Equal(t, Requested, s.Tick(0))
	oldSeq := sender.computes()[0].Seq

	s.Reset()
	assert.False(t, s.Ready())
	assert.Equal(t, NotReady, s.Tick(0))

	_, ok := s.Deliver(worker.Positions{Seq: oldSeq})
	assert.False(t, ok)

	s.Deliver(worker.Ready{Bodies: 20})
	require.Equal(t, Requested, s.Tick(0))
	newSeq := sender.computes()[1].Seq
	assert.Greater(t, newSeq, oldSeq)

	_, ok = s.Deliver(worker.Positions{Seq: oldSeq})
	assert.False(t, ok, "late result of the old population")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "not_ready", NotReady.String())
	assert.Equal(t, "busy", InFlight.String())
	assert.Nil(t, Requested.Err())
	assert.Nil(t, Throttled.Err())
}
