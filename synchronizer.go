package framecore

import (
	"errors"
	"fmt"
)

// Synchronizer configuration errors.
var (
	// ErrZeroFrameCount is returned when initializing with no frames.
	ErrZeroFrameCount = errors.New("framecore: frame count must be at least 1")

	// ErrTooManyFrames is returned when frameCount exceeds MaxFramesInFlight.
	ErrTooManyFrames = errors.New("framecore: frame count exceeds MaxFramesInFlight")
)

// MaxFramesInFlight is the fixed upper bound on frames the CPU may
// prepare before the synchronizer stalls it.
const MaxFramesInFlight = 8

// frameSlot is one recycled per-frame state bundle. waitValue stays 0
// until the slot's first submission, so a fresh slot never waits.
type frameSlot struct {
	imageAvailable Signal
	workFinished   Signal
	waitValue      uint64
}

// FrameSynchronizer bounds frames-in-flight with a single monotonically
// increasing timeline instead of per-slot fences. "Has slot i's work
// finished" collapses to one counter comparison, which avoids the
// fence-reset race and keeps completion queryable without blocking.
//
// All methods must be called from the single frame-producing thread;
// only TimelineValue is safe to call concurrently.
type FrameSynchronizer struct {
	timeline   Timeline
	slots      []frameSlot
	current    int
	lastIssued uint64
}

// NewFrameSynchronizer allocates the timeline and per-slot signal pairs
// for frameCount frames in flight.
func NewFrameSynchronizer(device Device, frameCount int) (*FrameSynchronizer, error) {
	if device == nil {
		return nil, ErrNotInitialized
	}
	if frameCount == 0 {
		return nil, ErrZeroFrameCount
	}
	if frameCount < 0 || frameCount > MaxFramesInFlight {
		return nil, ErrTooManyFrames
	}

	timeline, err := device.NewTimeline()
	if err != nil {
		return nil, fmt.Errorf("framecore: create frame timeline: %w", err)
	}

	s := &FrameSynchronizer{
		timeline: timeline,
		slots:    make([]frameSlot, frameCount),
	}
	for i := range s.slots {
		ia, err := device.NewSignal()
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("framecore: create image-available signal %d: %w", i, err)
		}
		s.slots[i].imageAvailable = ia

		wf, err := device.NewSignal()
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("framecore: create work-finished signal %d: %w", i, err)
		}
		s.slots[i].workFinished = wf
	}
	return s, nil
}

// FrameCount returns the number of frames in flight.
func (s *FrameSynchronizer) FrameCount() int { return len(s.slots) }

// CurrentSlot returns the round-robin frame slot index.
func (s *FrameSynchronizer) CurrentSlot() int { return s.current }

// Timeline returns the frame completion timeline. The orchestrator
// attaches it to every frame submission.
func (s *FrameSynchronizer) Timeline() Timeline { return s.timeline }

// CurrentImageAvailable returns the current slot's image-available signal.
func (s *FrameSynchronizer) CurrentImageAvailable() Signal {
	return s.slots[s.current].imageAvailable
}

// CurrentWorkFinished returns the current slot's work-finished signal.
func (s *FrameSynchronizer) CurrentWorkFinished() Signal {
	return s.slots[s.current].workFinished
}

// waitForSlot blocks until slot's recorded wait value has been reached.
// A wait value of 0 (never submitted) short-circuits. The non-blocking
// counter read avoids an unnecessary blocking wait call on the hot path.
func (s *FrameSynchronizer) waitForSlot(slot int) error {
	v := s.slots[slot].waitValue
	if v == 0 {
		return nil
	}
	if s.timeline.Value() >= v {
		return nil
	}
	return s.timeline.Wait(v)
}

// WaitForCurrentFrameIfNeeded blocks until the current slot's prior
// submission has completed, making its per-frame resources safe to reuse.
func (s *FrameSynchronizer) WaitForCurrentFrameIfNeeded() error {
	return s.waitForSlot(s.current)
}

// WaitForPreviousFrame blocks until the previous slot's submission has
// completed.
func (s *FrameSynchronizer) WaitForPreviousFrame() error {
	n := len(s.slots)
	return s.waitForSlot((s.current + n - 1) % n)
}

// NextFrameSignalValue issues the strictly increasing counter value the
// upcoming submission must signal, and records it as the current slot's
// wait value. The caller must use exactly this value when submitting.
func (s *FrameSynchronizer) NextFrameSignalValue() uint64 {
	s.lastIssued++
	s.slots[s.current].waitValue = s.lastIssued
	return s.lastIssued
}

// Advance moves the round-robin slot index forward. Called once per
// completed frame, after submission and presentation.
func (s *FrameSynchronizer) Advance() {
	s.current = (s.current + 1) % len(s.slots)
}

// WaitForAllFrames blocks until every issued signal value has been
// reached. Used at shutdown.
func (s *FrameSynchronizer) WaitForAllFrames() error {
	if s.lastIssued == 0 {
		return nil
	}
	if s.timeline.Value() >= s.lastIssued {
		return nil
	}
	return s.timeline.Wait(s.lastIssued)
}

// TimelineValue returns the current timeline counter value. Diagnostics
// only; safe to call from any goroutine.
func (s *FrameSynchronizer) TimelineValue() uint64 {
	return s.timeline.Value()
}

// Destroy releases the per-slot signals and the timeline. Callers should
// WaitForAllFrames first.
func (s *FrameSynchronizer) Destroy() {
	for i := range s.slots {
		if s.slots[i].imageAvailable != nil {
			s.slots[i].imageAvailable.Destroy()
			s.slots[i].imageAvailable = nil
		}
		if s.slots[i].workFinished != nil {
			s.slots[i].workFinished.Destroy()
			s.slots[i].workFinished = nil
		}
	}
	if s.timeline != nil {
		s.timeline.Destroy()
		s.timeline = nil
	}
}
