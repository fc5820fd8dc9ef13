// Package kepler implements the two-body Keplerian model used for every body in
// the field: the Kepler equation solver and the single-body transform from
// orbital elements to a heliocentric ecliptic position.
package kepler

import "math"

const (
	// Tolerance is the |ΔE| step size (radians) below which iteration stops.
	Tolerance = 1e-6

	// MaxIterations bounds the Newton-Raphson loop.
	MaxIterations = 30

	// highEccentricity is the eccentricity above which iteration starts at π
	// instead of M. Starting at M can overshoot past π for near-parabolic
	// orbits and lose convergence within the iteration cap.
	highEccentricity = 0.8

	twoPi = 2 * math.Pi
)

// Solve returns the eccentric anomaly E (radians) for mean anomaly M (radians,
// any real) and eccentricity e in [0, 1), so that E − e·sin(E) = M.
//
// The loop stops when the Newton step falls below Tolerance or after
// MaxIterations, whichever comes first. The last estimate is returned either
// way; no error is reported.
func Solve(M, e float64) float64 {
	E, _ := solve(M, e)
	return E
}

// solve also reports the number of iterations performed.
func solve(M, e float64) (float64, int) {
	// Work on M reduced to [0, 2π) and add the whole turns back at the end,
	// which keeps E − e·sin(E) = M exact for any real M.
	m := NormalizeAngle(M)
	turns := M - m

	E := m
	if e >= highEccentricity {
		E = math.Pi
	}

	var n int
	for n = 0; n < MaxIterations; n++ {
		sinE, cosE := math.Sincos(E)
		delta := (E - e*sinE - m) / (1 - e*cosE)
		E -= delta
		if math.Abs(delta) < Tolerance {
			n++
			break
		}
	}
	return E + turns, n
}

// TrueAnomaly converts an eccentric anomaly to the true anomaly using the
// half-angle relation tan(ν/2) = sqrt((1+e)/(1−e))·tan(E/2).
func TrueAnomaly(E, e float64) float64 {
	sinH, cosH := math.Sincos(E / 2)
	return 2 * math.Atan2(math.Sqrt(1+e)*sinH, math.Sqrt(1-e)*cosH)
}

// NormalizeAngle wraps an angle in radians to [0, 2π).
func NormalizeAngle(x float64) float64 {
	r := math.Mod(x, twoPi)
	if r < 0 {
		r += twoPi
	}
	if r >= twoPi {
		r = 0
	}
	return r
}
