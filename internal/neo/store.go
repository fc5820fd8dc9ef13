package neo

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store holds the current population for concurrent readers.
type Store struct {
	pop atomic.Pointer[Population]
	mu  sync.Mutex // serializes reloads
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current population, or nil if none has been loaded.
func (s *Store) Get() *Population {
	return s.pop.Load()
}

// Set atomically replaces the current population.
func (s *Store) Set(p *Population) {
	s.pop.Store(p)
}

// AgeSeconds returns seconds since the current population was loaded, or -1
// when empty.
func (s *Store) AgeSeconds() float64 {
	p := s.pop.Load()
	if p == nil {
		return -1
	}
	return time.Since(p.LoadedAt).Seconds()
}

// Lock acquires the reload mutex.
func (s *Store) Lock() {
	s.mu.Lock()
}

// TryLock acquires the reload mutex if no reload is running.
func (s *Store) TryLock() bool {
	return s.mu.TryLock()
}

// Unlock releases the reload mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
