package propagation

// PositionBuffer is a flat 3×N float32 coordinate buffer, one (x, y, z) triple
// per body, index-aligned with the population.
//
// A buffer has exactly one owner. Transfer hands the backing array to a new
// handle and detaches the old one, so a sender that keeps its handle after
// sending sees an empty buffer instead of memory someone else is writing.
type PositionBuffer struct {
	data []float32
}

// NewPositionBuffer allocates a buffer for the given number of bodies.
func NewPositionBuffer(bodies int) *PositionBuffer {
	return &PositionBuffer{data: make([]float32, 3*bodies)}
}

// Bodies returns the number of triples the buffer holds.
func (b *PositionBuffer) Bodies() int {
	if b == nil {
		return 0
	}
	return len(b.data) / 3
}

// Data exposes the backing array to the current owner.
func (b *PositionBuffer) Data() []float32 {
	if b == nil {
		return nil
	}
	return b.data
}

// At returns body i's coordinates.
func (b *PositionBuffer) At(i int) (x, y, z float32) {
	j := 3 * i
	return b.data[j], b.data[j+1], b.data[j+2]
}

// Transfer moves the backing array into a new handle. The receiver is left
// detached.
func (b *PositionBuffer) Transfer() *PositionBuffer {
	if b == nil {
		return nil
	}
	moved := &PositionBuffer{data: b.data}
	b.data = nil
	return moved
}

// Detached reports whether the buffer has been transferred away (or was never
// allocated).
func (b *PositionBuffer) Detached() bool {
	return b == nil || b.data == nil
}

// CopyTo copies the coordinates into dst, growing it as needed, and returns
// it. Used by consumers that need to keep a snapshot past the next handoff.
func (b *PositionBuffer) CopyTo(dst []float32) []float32 {
	if cap(dst) < len(b.Data()) {
		dst = make([]float32, len(b.Data()))
	}
	dst = dst[:len(b.Data())]
	copy(dst, b.Data())
	return dst
}
