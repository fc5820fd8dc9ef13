package field

import "github.com/Nolaskote/Simulation/internal/propagation"

// sink holds the position buffer the render side currently displays.
type sink struct {
	live *propagation.PositionBuffer
	days float64
}

// apply installs buf as the live buffer and returns the one it replaces,
// which the caller hands back to the worker.
func (s *sink) apply(buf *propagation.PositionBuffer, days float64) *propagation.PositionBuffer {
	prev := s.live
	s.live = buf
	s.days = days
	return prev
}

// reset drops the live buffer. Buffers are never reused across populations.
func (s *sink) reset() {
	s.live = nil
	s.days = 0
}
