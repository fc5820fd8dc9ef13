// Package simclock is the simulation time source: days since J2000 advancing
// at a configurable rate against the wall clock.
package simclock

import (
	"sync"
	"time"
)

// Sample is one read of the clock.
type Sample struct {
	Days       float64 // simulation time, days since J2000
	Generation uint64  // bumped on every Seek
	Rate       float64 // simulated days per wall second
	Paused     bool
}

// Clock advances simulation time continuously except on Seek. A change of
// Generation between two samples marks a discontinuity.
type Clock struct {
	mu   sync.Mutex
	wall WallClock

	base   float64   // simulation days at anchor
	anchor time.Time // wall time base was taken
	rate   float64
	paused bool
	gen    uint64
}

// New creates a clock at startDays running at rate simulated days per wall
// second.
func New(startDays, rate float64, wall WallClock) *Clock {
	if wall == nil {
		wall = System()
	}
	return &Clock{
		wall:   wall,
		base:   startDays,
		anchor: wall.Now(),
		rate:   rate,
	}
}

// days returns the current simulation time. Caller holds mu.
func (c *Clock) days(now time.Time) float64 {
	if c.paused {
		return c.base
	}
	return c.base + now.Sub(c.anchor).Seconds()*c.rate
}

// reanchor folds elapsed time into base so later changes apply from now.
func (c *Clock) reanchor() {
	now := c.wall.Now()
	c.base = c.days(now)
	c.anchor = now
}

// Now returns the current simulation time in days since J2000.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.days(c.wall.Now())
}

// Sample reads time and state atomically.
func (c *Clock) Sample() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Sample{
		Days:       c.days(c.wall.Now()),
		Generation: c.gen,
		Rate:       c.rate,
		Paused:     c.paused,
	}
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.reanchor()
	c.paused = true
}

func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.anchor = c.wall.Now()
}

// SetRate changes speed without a jump in simulation time. Negative rates run
// time backwards.
func (c *Clock) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reanchor()
	c.rate = rate
}

// Seek jumps to days and starts a new generation.
func (c *Clock) Seek(days float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = days
	c.anchor = c.wall.Now()
	c.gen++
}

// Generation returns the number of seeks so far.
func (c *Clock) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}
