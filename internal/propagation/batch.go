package propagation

import (
	"math"

	"github.com/Nolaskote/Simulation/internal/kepler"
)

// computeRange evaluates bodies [lo, hi) of ea at the given time and writes
// scaled coordinates into dst. It is the Orbit.Position math unrolled over
// the SoA slices. Returns the number of bodies with non-finite output.
func computeRange(ea *ElementArrays, lo, hi int, days, scale float64, dst []float32) int {
	var nonFinite int
	for i := lo; i < hi; i++ {
		e := ea.E[i]
		M := kepler.MeanAnomalyAt(ea.M0[i], ea.Period[i], days)
		E := kepler.Solve(M, e)
		nu := kepler.TrueAnomaly(E, e)
		r := kepler.Radius(ea.A[i], e, E) * scale

		su, cu := math.Sincos(ea.ArgPeri[i] + nu)
		sO, cO := math.Sincos(ea.Node[i])
		si, ci := math.Sincos(ea.I[i])

		x := r * (cO*cu - sO*su*ci)
		y := r * (sO*cu + cO*su*ci)
		z := r * (su * si)

		j := 3 * i
		dst[j] = float32(x)
		dst[j+1] = float32(y)
		dst[j+2] = float32(z)

		if !finite(x) || !finite(y) || !finite(z) {
			nonFinite++
		}
	}
	return nonFinite
}

// Compute is the single-goroutine batch transform: one full pass over every
// body in ea, written into dst (length ≥ 3·ea.Len()).
func Compute(ea *ElementArrays, days, scale float64, dst []float32) int {
	return computeRange(ea, 0, ea.Len(), days, scale, dst)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
