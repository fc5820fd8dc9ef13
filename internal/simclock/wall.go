package simclock

import (
	"sync"
	"time"
)

// WallClock is the real-time source the simulation and scheduler measure
// elapsed time against.
type WallClock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the process wall clock.
func System() WallClock { return systemClock{} }

// MockWallClock is a controllable wall clock for tests.
type MockWallClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockWallClock creates a mock clock starting at t.
func NewMockWallClock(t time.Time) *MockWallClock {
	return &MockWallClock{now: t}
}

func (m *MockWallClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set jumps the mock clock to t.
func (m *MockWallClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the mock clock forward by d.
func (m *MockWallClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
