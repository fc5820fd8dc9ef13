package propagation

import (
	"time"

	"github.com/Nolaskote/Simulation/internal/kepler"
)

// ElementArrays holds a population's elements in structure-of-arrays form,
// already normalized (radians, clamped periods). Slot i of every slice
// belongs to body i. Immutable once built.
type ElementArrays struct {
	A       []float64
	E       []float64
	I       []float64
	Node    []float64
	ArgPeri []float64
	M0      []float64
	Period  []float64
}

// NewElementArrays allocates arrays for n bodies.
func NewElementArrays(n int) *ElementArrays {
	return &ElementArrays{
		A:       make([]float64, n),
		E:       make([]float64, n),
		I:       make([]float64, n),
		Node:    make([]float64, n),
		ArgPeri: make([]float64, n),
		M0:      make([]float64, n),
		Period:  make([]float64, n),
	}
}

// FromElements converts catalogue elements into SoA form.
func FromElements(els []kepler.Elements) *ElementArrays {
	ea := NewElementArrays(len(els))
	for i, el := range els {
		ea.Set(i, el.Orbit())
	}
	return ea
}

// Set stores one body's normalized orbit in slot i.
func (ea *ElementArrays) Set(i int, o kepler.Orbit) {
	ea.A[i] = o.A
	ea.E[i] = o.E
	ea.I[i] = o.I
	ea.Node[i] = o.Node
	ea.ArgPeri[i] = o.ArgPeri
	ea.M0[i] = o.M0
	ea.Period[i] = o.Period
}

// Len returns the body count.
func (ea *ElementArrays) Len() int {
	if ea == nil {
		return 0
	}
	return len(ea.A)
}

// BatchStats describes one completed batch pass.
type BatchStats struct {
	Bodies    int
	NonFinite int // bodies whose position came out NaN/Inf
	Duration  time.Duration
}

// PropConfig holds batch transform configuration.
type PropConfig struct {
	Workers   int // goroutines per batch (default: runtime.NumCPU())
	ChunkSize int // bodies per job (default: 1024)
}
