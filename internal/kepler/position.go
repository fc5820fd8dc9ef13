package kepler

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Position returns the heliocentric ecliptic position (AU) of a body with the
// given elements, days after the reference epoch.
//
// Malformed elements produce non-finite components; callers treat those as
// "position unknown".
func Position(el Elements, days float64) r3.Vec {
	return el.Orbit().Position(days)
}

// Position evaluates the orbit days after the reference epoch.
func (o Orbit) Position(days float64) r3.Vec {
	M := MeanAnomalyAt(o.M0, o.Period, days)
	E := Solve(M, o.E)
	nu := TrueAnomaly(E, o.E)
	r := Radius(o.A, o.E, E)

	sinNu, cosNu := math.Sincos(nu)
	pqw := mat.NewVecDense(3, []float64{r * cosNu, r * sinNu, 0})

	var out mat.VecDense
	out.MulVec(Rotation(o.I, o.Node, o.ArgPeri), pqw)
	return r3.Vec{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// Rotation returns Rz(Ω)·Rx(i)·Rz(ω), the perifocal to heliocentric ecliptic
// rotation (angles in radians).
func Rotation(i, node, argPeri float64) *mat.Dense {
	var nodeIncl, m mat.Dense
	nodeIncl.Mul(rz(node), rx(i))
	m.Mul(&nodeIncl, rz(argPeri))
	return &m
}

func rz(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rx(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}
