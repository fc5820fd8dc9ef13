package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testElements() *propagation.ElementArrays {
	return propagation.FromElements([]kepler.Elements{
		{A: 1, E: 0.0167, I: 0, Node: 0, ArgPeri: 102.9, MeanAnomaly: 100, Period: 365.256},
		{A: 1.458, E: 0.223, I: 10.83, Node: 304.3, ArgPeri: 178.9, MeanAnomaly: 246.9, Period: 643.2},
		{A: 0.922, E: 0.191, I: 3.34, Node: 204.4, ArgPeri: 126.7, MeanAnomaly: 101.4, Period: 323.6},
	})
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 2}, testLogger())
	c := NewClient(prop, Config{}, testLogger())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker message")
		return nil
	}
}

func TestInitThenCompute(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.TrySend(Init{Elements: testElements()}))
	ready, ok := receive(t, c).(Ready)
	require.True(t, ok, "first reply must be ready")
	assert.Equal(t, 3, ready.Bodies)

	require.NoError(t, c.TrySend(Compute{Seq: 1, Time: 100, Scale: 50}))
	pos, ok := receive(t, c).(Positions)
	require.True(t, ok)
	assert.Equal(t, uint64(1), pos.Seq)
	assert.Equal(t, 100.0, pos.Time)
	assert.Equal(t, 3, pos.Buffer.Bodies())
	assert.Equal(t, 3, pos.Stats.Bodies)
}

// TestComputeBeforeInitDropped verifies the worker answers nothing to a
// compute that precedes init.
func TestComputeBeforeInitDropped(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.TrySend(Compute{Seq: 7, Time: 0, Scale: 1}))
	require.NoError(t, c.TrySend(Init{Elements: testElements()}))

	_, ok := receive(t, c).(Ready)
	assert.True(t, ok, "dropped compute must not produce positions")

	select {
	case msg := <-c.Messages():
		t.Fatalf("unexpected message %s", msg.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

// TestResultsInRequestOrder verifies positions arrive in the order the
// computes were sent.
func TestResultsInRequestOrder(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.TrySend(Init{Elements: testElements()}))
	receive(t, c)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, c.TrySend(Compute{Seq: seq, Time: float64(seq), Scale: 1}))
	}
	for seq := uint64(1); seq <= 3; seq++ {
		pos := receive(t, c).(Positions)
		assert.Equal(t, seq, pos.Seq)
	}
}

// TestBufferRecycled verifies a transferred buffer comes back as the result
// and the sender's handle is detached.
func TestBufferRecycled(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.TrySend(Init{Elements: testElements()}))
	receive(t, c)

	mine := propagation.NewPositionBuffer(3)
	backing := &mine.Data()[0]
	require.NoError(t, c.TrySend(Compute{Seq: 1, Scale: 1, Buffer: mine.Transfer()}))
	assert.True(t, mine.Detached())

	pos := receive(t, c).(Positions)
	assert.Same(t, backing, &pos.Buffer.Data()[0], "worker should write into the recycled array")
}

// TestInitReplacesState verifies a second init swaps the population.
func TestInitReplacesState(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.TrySend(Init{Elements: testElements()}))
	receive(t, c)

	bigger := propagation.FromElements(make([]kepler.Elements, 10))
	require.NoError(t, c.TrySend(Init{Elements: bigger}))
	assert.Equal(t, 10, receive(t, c).(Ready).Bodies)

	require.NoError(t, c.TrySend(Compute{Seq: 2, Scale: 1, Buffer: propagation.NewPositionBuffer(3)}))
	assert.Equal(t, 10, receive(t, c).(Positions).Buffer.Bodies())
}

func TestTrySendLifecycle(t *testing.T) {
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 1}, testLogger())
	c := NewClient(prop, Config{InboxSize: 1}, testLogger())

	assert.ErrorIs(t, c.TrySend(Init{}), ErrClosed, "not started")

	c.Close()
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.TrySend(Init{}), ErrClosed)
	assert.True(t, IsClosed(c.TrySend(Init{})))

	select {
	case <-c.Done():
	default:
		t.Fatal("done must be closed after Close")
	}
}

func TestContextCancelStopsWorker(t *testing.T) {
	prop := propagation.NewPropagator(propagation.PropConfig{Workers: 1}, testLogger())
	c := NewClient(prop, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))

	cancel()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit on cancel")
	}
	assert.ErrorIs(t, c.TrySend(Compute{}), ErrClosed)
	c.Close()
}
