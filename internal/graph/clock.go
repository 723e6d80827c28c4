package graph

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dreamware/atlas/internal/ids"
)

// sourceClock tracks the executed sequence numbers for one process as a
// high-water mark (every sequence up to and including it is executed) plus
// a sparse roaring bitmap of holes: sequences above the high-water mark
// that are executed out of order. MarkExecuted promotes contiguous runs
// above the mark into it, so the bitmap never grows unbounded for a
// steadily progressing source.
type sourceClock struct {
	highWater uint64
	hasMark   bool
	holes     *roaring.Bitmap
}

func newSourceClock() *sourceClock {
	return &sourceClock{holes: roaring.New()}
}

func (c *sourceClock) contains(seq uint64) bool {
	if c.hasMark && seq <= c.highWater {
		return true
	}
	return c.holes.Contains(uint32(seq))
}

func (c *sourceClock) markExecuted(seq uint64) {
	if c.hasMark && seq <= c.highWater {
		return
	}
	c.holes.Add(uint32(seq))
	c.compact()
}

// compact promotes every contiguous run starting at highWater+1 into the
// high-water mark, discarding the now-redundant bitmap entries.
func (c *sourceClock) compact() {
	next := uint64(0)
	if c.hasMark {
		next = c.highWater + 1
	} else if !c.holes.Contains(1) {
		return
	} else {
		next = 1
	}
	for c.holes.Contains(uint32(next)) {
		c.holes.Remove(uint32(next))
		c.highWater = next
		c.hasMark = true
		next++
	}
}

// ExecutedClock tracks, per source process, which sequence numbers have
// been executed. It is lane-owned: callers are expected to serialize access
// (an Executor never shares its clock across goroutines).
type ExecutedClock struct {
	mu      sync.Mutex
	sources map[ids.ProcessID]*sourceClock
}

// NewExecutedClock returns an empty ExecutedClock.
func NewExecutedClock() *ExecutedClock {
	return &ExecutedClock{sources: make(map[ids.ProcessID]*sourceClock)}
}

// Contains reports whether dot has already been executed.
func (c *ExecutedClock) Contains(dot ids.Dot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.sources[dot.Source]
	if !ok {
		return false
	}
	return sc.contains(dot.Sequence)
}

// MarkExecuted records dot as executed.
func (c *ExecutedClock) MarkExecuted(dot ids.Dot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.sources[dot.Source]
	if !ok {
		sc = newSourceClock()
		c.sources[dot.Source] = sc
	}
	sc.markExecuted(dot.Sequence)
}

// HighWater returns the current high-water mark for source, and whether one
// has been established yet.
func (c *ExecutedClock) HighWater(source ids.ProcessID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.sources[source]
	if !ok {
		return 0, false
	}
	return sc.highWater, sc.hasMark
}
