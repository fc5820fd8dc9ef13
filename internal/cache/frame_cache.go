// Package cache keeps a rolling window of recently published frames.
//
// The field publishes one frame per applied position buffer. Frames are
// copies, so readers never see a buffer the worker owns. Stream handlers use
// Latest for the current state, Recent for orbital trails, and Updated to
// wait for the next frame.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/Nolaskote/Simulation/internal/ephem"
	"github.com/Nolaskote/Simulation/internal/metrics"
)

// Frame is one published snapshot of the field.
type Frame struct {
	Seq        uint64        // assigned by the cache, strictly increasing
	Days       float64       // simulation time of the positions
	Generation uint64        // clock generation; trails never span a seek
	Population uint64        // population version; trails never span a reload
	Scale      float64       // scene units per AU
	Positions  []float32     // 3×N, index-aligned with the population
	NonFinite  int           // bodies with a NaN/Inf coordinate
	Planets    []ephem.State // planet positions in AU and spin angles
	ComputedAt time.Time
}

// Bodies returns the number of body triples in the frame.
func (f *Frame) Bodies() int {
	return len(f.Positions) / 3
}

// At returns body i's coordinates.
func (f *Frame) At(i int) (x, y, z float32) {
	j := 3 * i
	return f.Positions[j], f.Positions[j+1], f.Positions[j+2]
}

// FrameCache is a fixed-capacity ring of frames. Safe for concurrent use.
type FrameCache struct {
	mu       sync.RWMutex
	frames   []*Frame // ring storage
	head     int      // index of the oldest frame
	count    int
	seq      uint64
	updated  chan struct{}
	logger   *slog.Logger
	capacity int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewFrameCache creates a cache holding at most capacity frames.
func NewFrameCache(capacity int, logger *slog.Logger) *FrameCache {
	if capacity < 1 {
		capacity = 1
	}
	logger.Info("frame cache initialized", "component", "cache", "capacity", capacity)
	return &FrameCache{
		frames:   make([]*Frame, capacity),
		updated:  make(chan struct{}),
		logger:   logger,
		capacity: capacity,
	}
}

// Put stores f, evicting the oldest frame when full, assigns its Seq, and
// wakes every Updated waiter. The cache owns f afterwards.
func (c *FrameCache) Put(f *Frame) uint64 {
	c.mu.Lock()
	c.seq++
	f.Seq = c.seq

	evicted := 0
	if c.count == c.capacity {
		c.frames[c.head] = f
		c.head = (c.head + 1) % c.capacity
		evicted = 1
	} else {
		c.frames[(c.head+c.count)%c.capacity] = f
		c.count++
	}
	count := c.count
	close(c.updated)
	c.updated = make(chan struct{})
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		metrics.AddCacheEvictions(evicted)
	}
	metrics.SetFrameCacheEntries(count)
	return f.Seq
}

// Updated returns a channel closed by the next Put or Reset.
func (c *FrameCache) Updated() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// at returns the i-th oldest frame. Caller holds mu.
func (c *FrameCache) at(i int) *Frame {
	return c.frames[(c.head+i)%c.capacity]
}

// Latest returns the newest frame, or nil when empty.
func (c *FrameCache) Latest() *Frame {
	c.mu.RLock()
	var f *Frame
	if c.count > 0 {
		f = c.at(c.count - 1)
	}
	c.mu.RUnlock()

	if f == nil {
		c.misses.Add(1)
		metrics.IncCacheMisses()
		return nil
	}
	c.hits.Add(1)
	metrics.IncCacheHits()
	return f
}

// Recent returns up to n frames ending at the newest, oldest first. Frames
// from an earlier clock generation or population than the newest are left
// out, so a trail never connects across a discontinuity.
func (c *FrameCache) Recent(n int) []*Frame {
	if n <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.count == 0 {
		return nil
	}
	newest := c.at(c.count - 1)

	start := c.count - n
	if start < 0 {
		start = 0
	}
	out := make([]*Frame, 0, c.count-start)
	for i := start; i < c.count; i++ {
		f := c.at(i)
		if f.Generation != newest.Generation || f.Population != newest.Population {
			out = out[:0]
			continue
		}
		out = append(out, f)
	}
	return out
}

// After returns the oldest frame with Seq greater than seq, or nil.
func (c *FrameCache) After(seq uint64) *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 0; i < c.count; i++ {
		if f := c.at(i); f.Seq > seq {
			return f
		}
	}
	return nil
}

// Reset drops every frame, e.g. when the population changes.
func (c *FrameCache) Reset() {
	c.mu.Lock()
	removed := c.count
	for i := range c.frames {
		c.frames[i] = nil
	}
	c.head, c.count = 0, 0
	close(c.updated)
	c.updated = make(chan struct{})
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.logger.Debug("frame cache reset", "component", "cache", "entries_removed", removed)
	}
	metrics.SetFrameCacheEntries(0)
}

// CacheStats holds cache statistics for the stats endpoint.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	SizeBytes int64   `json:"size_bytes"`
	OldestSeq uint64  `json:"oldest_seq"`
	NewestSeq uint64  `json:"newest_seq"`
	NewestDay float64 `json:"newest_days"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *FrameCache) Stats() CacheStats {
	c.mu.RLock()
	stats := CacheStats{
		Entries:  c.count,
		Capacity: c.capacity,
	}
	if c.count > 0 {
		oldest, newest := c.at(0), c.at(c.count-1)
		stats.OldestSeq = oldest.Seq
		stats.NewestSeq = newest.Seq
		stats.NewestDay = newest.Days
	}
	for i := 0; i < c.count; i++ {
		stats.SizeBytes += frameSize(c.at(i))
	}
	c.mu.RUnlock()

	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()
	stats.Evictions = c.evictions.Load()
	return stats
}

// frameSize estimates a frame's memory footprint.
func frameSize(f *Frame) int64 {
	return int64(unsafe.Sizeof(*f)) +
		int64(len(f.Positions))*4 +
		int64(len(f.Planets))*int64(unsafe.Sizeof(ephem.State{}))
}
