// Package ephem computes major planet positions from the JPL approximate
// Keplerian elements (valid 1800–2050) and their secular rates.
package ephem

import (
	"math"
	"strings"

	"github.com/Nolaskote/Simulation/internal/kepler"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	daysPerCentury = 36525.0
	siderealYear   = 365.25636 // days
)

// rate is an element value at J2000 and its change per Julian century.
type rate struct {
	At, PerCentury float64
}

func (r rate) eval(t float64) float64 {
	return r.At + r.PerCentury*t
}

// Planet holds one planet's mean elements. Angles in degrees.
type Planet struct {
	Name string

	A        rate // semi-major axis, AU
	E        rate // eccentricity
	I        rate // inclination
	L        rate // mean longitude
	LongPeri rate // longitude of perihelion ϖ
	Node     rate // longitude of the ascending node Ω

	RotationDays float64 // sidereal rotation period; negative is retrograde
}

// Planets lists the eight major planets in order from the Sun. Earth uses
// the Earth-Moon barycenter elements.
var Planets = []Planet{
	{
		Name:         "Mercury",
		A:            rate{0.38709927, 0.00000037},
		E:            rate{0.20563593, 0.00001906},
		I:            rate{7.00497902, -0.00594749},
		L:            rate{252.25032350, 149472.67411175},
		LongPeri:     rate{77.45779628, 0.16047689},
		Node:         rate{48.33076593, -0.12534081},
		RotationDays: 58.646,
	},
	{
		Name:         "Venus",
		A:            rate{0.72333566, 0.00000390},
		E:            rate{0.00677672, -0.00004107},
		I:            rate{3.39467605, -0.00078890},
		L:            rate{181.97909950, 58517.81538729},
		LongPeri:     rate{131.60246718, 0.00268329},
		Node:         rate{76.67984255, -0.27769418},
		RotationDays: -243.025,
	},
	{
		Name:         "Earth",
		A:            rate{1.00000261, 0.00000562},
		E:            rate{0.01671123, -0.00004392},
		I:            rate{-0.00001531, -0.01294668},
		L:            rate{100.46457166, 35999.37244981},
		LongPeri:     rate{102.93768193, 0.32327364},
		Node:         rate{0, 0},
		RotationDays: 0.99727,
	},
	{
		Name:         "Mars",
		A:            rate{1.52371034, 0.00001847},
		E:            rate{0.09339410, 0.00007882},
		I:            rate{1.84969142, -0.00813131},
		L:            rate{-4.55343205, 19140.30268499},
		LongPeri:     rate{-23.94362959, 0.44441088},
		Node:         rate{49.55953891, -0.29257343},
		RotationDays: 1.025957,
	},
	{
		Name:         "Jupiter",
		A:            rate{5.20288700, -0.00011607},
		E:            rate{0.04838624, -0.00013253},
		I:            rate{1.30439695, -0.00183714},
		L:            rate{34.39644051, 3034.74612775},
		LongPeri:     rate{14.72847983, 0.21252668},
		Node:         rate{100.47390909, 0.20469106},
		RotationDays: 0.41354,
	},
	{
		Name:         "Saturn",
		A:            rate{9.53667594, -0.00125060},
		E:            rate{0.05386179, -0.00050991},
		I:            rate{2.48599187, 0.00193609},
		L:            rate{49.95424423, 1222.49362201},
		LongPeri:     rate{92.59887831, -0.41897216},
		Node:         rate{113.66242448, -0.28867794},
		RotationDays: 0.44401,
	},
	{
		Name:         "Uranus",
		A:            rate{19.18916464, -0.00196176},
		E:            rate{0.04725744, -0.00004397},
		I:            rate{0.77263783, -0.00242939},
		L:            rate{313.23810451, 428.48202785},
		LongPeri:     rate{170.95427630, 0.40805281},
		Node:         rate{74.01692503, 0.04240589},
		RotationDays: -0.71833,
	},
	{
		Name:         "Neptune",
		A:            rate{30.06992276, 0.00026291},
		E:            rate{0.00859048, 0.00005105},
		I:            rate{1.77004347, 0.00035372},
		L:            rate{-55.12002969, 218.45945325},
		LongPeri:     rate{44.96476227, -0.32241464},
		Node:         rate{131.78422574, -0.00508664},
		RotationDays: 0.67125,
	},
}

// Lookup finds a planet by name, case-insensitively.
func Lookup(name string) (Planet, bool) {
	for _, p := range Planets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Planet{}, false
}

// ElementsAt returns osculating-style elements at days since J2000, with the
// mean anomaly referenced to that same instant.
func (p Planet) ElementsAt(days float64) kepler.Elements {
	t := days / daysPerCentury
	a := p.A.eval(t)
	node := p.Node.eval(t)
	peri := p.LongPeri.eval(t)
	return kepler.Elements{
		A:           a,
		E:           p.E.eval(t),
		I:           p.I.eval(t),
		Node:        node,
		ArgPeri:     peri - node,
		MeanAnomaly: p.L.eval(t) - peri,
		Period:      siderealYear * math.Pow(a, 1.5),
	}
}

// Position returns the heliocentric ecliptic position in AU.
func (p Planet) Position(days float64) r3.Vec {
	return kepler.Position(p.ElementsAt(days), 0)
}

// SpinAngle returns the rotation angle about the planet's axis in [0, 2π).
func (p Planet) SpinAngle(days float64) float64 {
	if p.RotationDays == 0 {
		return 0
	}
	return kepler.NormalizeAngle(2 * math.Pi * days / p.RotationDays)
}

// State is a planet's position and spin at one instant.
type State struct {
	Name     string
	Position r3.Vec // AU, heliocentric ecliptic
	Spin     float64
}

// Positions evaluates every planet at days since J2000, into dst when it has
// room.
func Positions(days float64, dst []State) []State {
	dst = dst[:0]
	for _, p := range Planets {
		dst = append(dst, State{
			Name:     p.Name,
			Position: p.Position(days),
			Spin:     p.SpinAngle(days),
		})
	}
	return dst
}
