package kepler

import "math"

// MinPeriod is the floor applied to orbital periods (days) so that the mean
// motion never divides by zero.
const MinPeriod = 1e-3

const deg2rad = math.Pi / 180

// Elements are the Keplerian elements of one body as they arrive from the
// catalogue: angles in degrees, a in AU, period in days.
type Elements struct {
	A           float64 // semi-major axis, AU
	E           float64 // eccentricity, [0, 1)
	I           float64 // inclination, degrees
	Node        float64 // longitude of the ascending node Ω, degrees
	ArgPeri     float64 // argument of periapsis ω, degrees
	MeanAnomaly float64 // mean anomaly at the reference epoch, degrees
	Period      float64 // orbital period, days
}

// Orbit is Elements normalized for computation: angles in radians and the
// period clamped to MinPeriod.
type Orbit struct {
	A, E                 float64
	I, Node, ArgPeri, M0 float64
	Period               float64
}

// Orbit converts the catalogue elements into their computational form.
func (el Elements) Orbit() Orbit {
	return Orbit{
		A:       el.A,
		E:       el.E,
		I:       el.I * deg2rad,
		Node:    el.Node * deg2rad,
		ArgPeri: el.ArgPeri * deg2rad,
		M0:      el.MeanAnomaly * deg2rad,
		Period:  ClampPeriod(el.Period),
	}
}

// ClampPeriod applies the MinPeriod floor. Non-finite and non-positive
// periods collapse to the floor as well.
func ClampPeriod(p float64) float64 {
	if !(p >= MinPeriod) || math.IsInf(p, 1) {
		return MinPeriod
	}
	return p
}

// MeanAnomalyAt returns the mean anomaly (radians, [0, 2π)) after the given
// number of days: M0 + 2π·days/period, modulo 2π.
func MeanAnomalyAt(m0, period, days float64) float64 {
	return NormalizeAngle(m0 + twoPi*(days/period))
}

// Radius returns the heliocentric distance r = a(1 − e·cosE).
func Radius(a, e, E float64) float64 {
	return a * (1 - e*math.Cos(E))
}
