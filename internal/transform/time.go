// Package transform converts between wall-clock time and simulation days, and
// between the heliocentric ecliptic frame and the viewer's scene frame.
package transform

import (
	"strconv"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// J2000 is the Julian Date of the J2000.0 epoch (2000-01-01 12:00 TT).
const J2000 = 2451545.0

// DaysPerCentury is the length of a Julian century.
const DaysPerCentury = 36525.0

// JulianDate converts t to a Julian Date. The UTC/TT offset (about a minute)
// is ignored.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// DaysSinceJ2000 returns the simulation time for t.
func DaysSinceJ2000(t time.Time) float64 {
	return JulianDate(t) - J2000
}

// TimeFromDays converts simulation days back to a UTC time, rounded to the
// millisecond.
func TimeFromDays(days float64) time.Time {
	return julian.JDToTime(J2000 + days).UTC().Round(time.Millisecond)
}

// Centuries returns Julian centuries since J2000 for days.
func Centuries(days float64) float64 {
	return days / DaysPerCentury
}

// ParseStart interprets a configured start time: "now", an RFC 3339
// timestamp, or a number of days since J2000.
func ParseStart(s string, now time.Time) (float64, bool) {
	switch s {
	case "", "now":
		return DaysSinceJ2000(now), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DaysSinceJ2000(t), true
	}
	if days, err := strconv.ParseFloat(s, 64); err == nil && Finite(days) {
		return days, true
	}
	return 0, false
}
