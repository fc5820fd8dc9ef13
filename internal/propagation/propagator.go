// Package propagation implements the batch orbital transform: the single-body
// Kepler transform vectorized over structure-of-arrays element storage and
// split across a goroutine pool.
package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nolaskote/Simulation/internal/metrics"
)

// Propagator runs batch passes and records their cost. It holds no per-call
// state: the same inputs always produce the same buffer contents.
type Propagator struct {
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger
}

// NewPropagator creates a batch propagator.
func NewPropagator(config PropConfig, logger *slog.Logger) *Propagator {
	return &Propagator{
		pool:   NewWorkerPool(config.Workers, config.ChunkSize, logger),
		config: config,
		logger: logger,
	}
}

// Compute evaluates all bodies of ea at days (since the reference epoch),
// multiplies by scale, and writes into buf. buf is reused when it has the
// right size; otherwise a new buffer is allocated. The returned buffer is
// owned by the caller.
func (p *Propagator) Compute(ctx context.Context, ea *ElementArrays, days, scale float64, buf *PositionBuffer) (*PositionBuffer, BatchStats, error) {
	n := ea.Len()
	if buf.Bodies() != n || buf.Detached() {
		buf = NewPositionBuffer(n)
	}

	start := time.Now()
	nonFinite, err := p.pool.ComputeBatch(ctx, ea, days, scale, buf.Data())
	duration := time.Since(start)
	if err != nil {
		return nil, BatchStats{}, fmt.Errorf("batch at t=%.3f days: %w", days, err)
	}

	metrics.RecordBatch(duration, n, nonFinite)

	p.logger.Debug("batch complete",
		"bodies", n,
		"non_finite", nonFinite,
		"sim_days", days,
		"duration_ms", duration.Milliseconds(),
	)

	return buf, BatchStats{Bodies: n, NonFinite: nonFinite, Duration: duration}, nil
}
