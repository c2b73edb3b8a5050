// Package recording provides the per-frame, per-thread command-recording
// pool matrix that makes parallel command recording lock-free.
//
// The matrix holds one independent command pool per [frame-slot,
// worker-id] cell. Partitioning by cell is the sole mechanism protecting
// recording: a buffer handed out during a frame slot's active period is
// only ever touched by the worker that owns its cell, so no other
// synchronization exists on the recording path.
package recording

import (
	"fmt"
	"sync"

	"github.com/dave-hillier/framecore"
)

// Default pre-allocation per cell. Exhaustion falls back to on-demand
// allocation, so these only size the lock-free fast path.
const (
	DefaultPrimaryPerCell   = 2
	DefaultSecondaryPerCell = 4
)

// cell is one [frame-slot, worker-id] recording pool with pre-allocated
// buffer arrays and next-free cursors. Buffers are invalidated en masse
// by Reset once per frame-slot reuse, never freed individually.
type cell struct {
	pool framecore.CommandPool

	primaries   []framecore.CommandBuffer
	secondaries []framecore.CommandBuffer
	nextPrimary int
	nextSecond  int

	// growMu guards the rare on-demand growth path only. The cursor
	// bumps above are unguarded: a cell is owned by one worker.
	growMu sync.Mutex
}

func (c *cell) allocatePrimary() framecore.CommandBuffer {
	if c.nextPrimary < len(c.primaries) {
		cb := c.primaries[c.nextPrimary]
		c.nextPrimary++
		return cb
	}

	c.growMu.Lock()
	defer c.growMu.Unlock()
	cb, err := c.pool.AllocatePrimary()
	if err != nil {
		framecore.Logger().Error("recording: on-demand primary allocation failed", "error", err)
		return nil
	}
	framecore.Logger().Debug("recording: primary pool grown", "size", len(c.primaries)+1)
	c.primaries = append(c.primaries, cb)
	c.nextPrimary = len(c.primaries)
	return cb
}

func (c *cell) allocateSecondary() framecore.CommandBuffer {
	if c.nextSecond < len(c.secondaries) {
		cb := c.secondaries[c.nextSecond]
		c.nextSecond++
		return cb
	}

	c.growMu.Lock()
	defer c.growMu.Unlock()
	cb, err := c.pool.AllocateSecondary()
	if err != nil {
		framecore.Logger().Error("recording: on-demand secondary allocation failed", "error", err)
		return nil
	}
	framecore.Logger().Debug("recording: secondary pool grown", "size", len(c.secondaries)+1)
	c.secondaries = append(c.secondaries, cb)
	c.nextSecond = len(c.secondaries)
	return cb
}

// Matrix is the [frame-slot][worker-id] grid of recording pools.
type Matrix struct {
	frames  int
	threads int
	cells   []cell // frames * threads, row-major by frame slot
}

// Config sizes a Matrix.
type Config struct {
	// Frames is the number of frame slots (frames in flight).
	Frames int

	// Threads is the number of workers that may record concurrently.
	// Worker ids at or above this count (and negative ids) receive nil
	// allocations.
	Threads int

	// QueueFamily selects the queue family the pools record for.
	QueueFamily uint32

	// PrimaryPerCell and SecondaryPerCell override the pre-allocation
	// counts when positive.
	PrimaryPerCell   int
	SecondaryPerCell int
}

// NewMatrix allocates frames x threads independent pools, each
// pre-stocked with primary and secondary buffers.
func NewMatrix(device framecore.Device, cfg Config) (*Matrix, error) {
	if device == nil {
		return nil, framecore.ErrNotInitialized
	}
	if cfg.Frames <= 0 || cfg.Threads <= 0 {
		return nil, fmt.Errorf("recording: invalid matrix size %dx%d", cfg.Frames, cfg.Threads)
	}
	primaries := cfg.PrimaryPerCell
	if primaries <= 0 {
		primaries = DefaultPrimaryPerCell
	}
	secondaries := cfg.SecondaryPerCell
	if secondaries <= 0 {
		secondaries = DefaultSecondaryPerCell
	}

	m := &Matrix{
		frames:  cfg.Frames,
		threads: cfg.Threads,
		cells:   make([]cell, cfg.Frames*cfg.Threads),
	}
	for i := range m.cells {
		pool, err := device.NewCommandPool(cfg.QueueFamily)
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("recording: create pool %d: %w", i, err)
		}
		c := &m.cells[i]
		c.pool = pool
		c.primaries = make([]framecore.CommandBuffer, 0, primaries)
		c.secondaries = make([]framecore.CommandBuffer, 0, secondaries)
		for p := 0; p < primaries; p++ {
			cb, err := pool.AllocatePrimary()
			if err != nil {
				m.Destroy()
				return nil, fmt.Errorf("recording: preallocate primary: %w", err)
			}
			c.primaries = append(c.primaries, cb)
		}
		for s := 0; s < secondaries; s++ {
			cb, err := pool.AllocateSecondary()
			if err != nil {
				m.Destroy()
				return nil, fmt.Errorf("recording: preallocate secondary: %w", err)
			}
			c.secondaries = append(c.secondaries, cb)
		}
	}

	framecore.Logger().Info("recording: pool matrix created",
		"frames", cfg.Frames, "threads", cfg.Threads,
		"primaryPerCell", primaries, "secondaryPerCell", secondaries)
	return m, nil
}

// Frames returns the frame-slot dimension.
func (m *Matrix) Frames() int { return m.frames }

// Threads returns the worker dimension.
func (m *Matrix) Threads() int { return m.threads }

func (m *Matrix) cellAt(frame, thread int) *cell {
	if frame < 0 || frame >= m.frames || thread < 0 || thread >= m.threads {
		return nil
	}
	return &m.cells[frame*m.threads+thread]
}

// ResetFrame resets every thread's pool for the given frame slot in one
// call, implicitly invalidating all buffers previously handed out for
// that slot. Call strictly after the synchronizer has confirmed the
// slot's prior work is complete.
func (m *Matrix) ResetFrame(frame int) error {
	if frame < 0 || frame >= m.frames {
		return fmt.Errorf("recording: frame slot %d out of range", frame)
	}
	for t := 0; t < m.threads; t++ {
		c := &m.cells[frame*m.threads+t]
		if err := c.pool.Reset(); err != nil {
			return fmt.Errorf("recording: reset slot %d thread %d: %w", frame, t, err)
		}
		c.nextPrimary = 0
		c.nextSecond = 0
	}
	return nil
}

// AllocatePrimary hands out a pre-allocated primary buffer for the cell,
// falling back to on-demand allocation when the pre-allocated pool is
// exhausted. Out-of-range indices return nil; callers must check.
func (m *Matrix) AllocatePrimary(frame, thread int) framecore.CommandBuffer {
	c := m.cellAt(frame, thread)
	if c == nil {
		return nil
	}
	return c.allocatePrimary()
}

// AllocateSecondary is AllocatePrimary for secondary buffers.
func (m *Matrix) AllocateSecondary(frame, thread int) framecore.CommandBuffer {
	c := m.cellAt(frame, thread)
	if c == nil {
		return nil
	}
	return c.allocateSecondary()
}

// Pool returns the underlying command pool for a cell, or nil for
// out-of-range indices. Escape hatch for custom allocation.
func (m *Matrix) Pool(frame, thread int) framecore.CommandPool {
	c := m.cellAt(frame, thread)
	if c == nil {
		return nil
	}
	return c.pool
}

// Destroy releases every cell's pool.
func (m *Matrix) Destroy() {
	for i := range m.cells {
		if m.cells[i].pool != nil {
			m.cells[i].pool.Destroy()
			m.cells[i].pool = nil
		}
	}
}
