package framecore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dave-hillier/framecore"
	"github.com/dave-hillier/framecore/backend"
)

func newTestSynchronizer(t *testing.T, frames int, opts backend.NoopOptions) (*framecore.FrameSynchronizer, *backend.NoopDevice) {
	t.Helper()
	device := backend.NewNoopDevice(opts)
	s, err := framecore.NewFrameSynchronizer(device, frames)
	if err != nil {
		t.Fatalf("NewFrameSynchronizer(%d): %v", frames, err)
	}
	t.Cleanup(s.Destroy)
	return s, device
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestFrameSynchronizer_Create(t *testing.T) {
	s, _ := newTestSynchronizer(t, 3, backend.NoopOptions{})

	if s.FrameCount() != 3 {
		t.Errorf("FrameCount() = %d, want 3", s.FrameCount())
	}
	if s.CurrentSlot() != 0 {
		t.Errorf("CurrentSlot() = %d, want 0", s.CurrentSlot())
	}
	if s.Timeline() == nil {
		t.Error("Timeline() must not be nil")
	}
	if s.CurrentImageAvailable() == nil || s.CurrentWorkFinished() == nil {
		t.Error("current slot signals must not be nil")
	}
}

func TestFrameSynchronizer_CreateInvalid(t *testing.T) {
	device := backend.NewNoopDevice(backend.NoopOptions{})

	if _, err := framecore.NewFrameSynchronizer(device, 0); !errors.Is(err, framecore.ErrZeroFrameCount) {
		t.Errorf("frameCount=0 error = %v, want ErrZeroFrameCount", err)
	}
	overMax := framecore.MaxFramesInFlight + 1
	if _, err := framecore.NewFrameSynchronizer(device, overMax); !errors.Is(err, framecore.ErrTooManyFrames) {
		t.Errorf("frameCount=%d error = %v, want ErrTooManyFrames", overMax, err)
	}
	if _, err := framecore.NewFrameSynchronizer(nil, 2); !errors.Is(err, framecore.ErrNotInitialized) {
		t.Errorf("nil device error = %v, want ErrNotInitialized", err)
	}
}

// =============================================================================
// Signal Value Tests
// =============================================================================

func TestFrameSynchronizer_SignalValuesStrictlyIncrease(t *testing.T) {
	s, _ := newTestSynchronizer(t, 3, backend.NoopOptions{})

	var prev uint64
	for i := 0; i < 3; i++ {
		v := s.NextFrameSignalValue()
		if v <= prev {
			t.Errorf("value %d = %d, want > %d", i, v, prev)
		}
		prev = v
		s.Advance()
	}
}

func TestFrameSynchronizer_AdvanceWraps(t *testing.T) {
	s, _ := newTestSynchronizer(t, 2, backend.NoopOptions{})

	s.Advance()
	if s.CurrentSlot() != 1 {
		t.Errorf("CurrentSlot() = %d, want 1", s.CurrentSlot())
	}
	s.Advance()
	if s.CurrentSlot() != 0 {
		t.Errorf("CurrentSlot() = %d after wrap, want 0", s.CurrentSlot())
	}
}

// =============================================================================
// Wait Tests
// =============================================================================

// Fresh slots have no recorded submission, so the first pass over every
// slot must not block.
func TestFrameSynchronizer_FreshSlotsNeverWait(t *testing.T) {
	s, _ := newTestSynchronizer(t, 3, backend.NoopOptions{Manual: true})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			if err := s.WaitForCurrentFrameIfNeeded(); err != nil {
				t.Errorf("WaitForCurrentFrameIfNeeded: %v", err)
			}
			s.Advance()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fresh synchronizer deadlocked")
	}
}

func TestFrameSynchronizer_WaitBlocksUntilSlotValueReached(t *testing.T) {
	s, device := newTestSynchronizer(t, 2, backend.NoopOptions{Manual: true})
	queue := device.GraphicsQueue()

	// Frame 0 submits against slot 0 and advances.
	v := s.NextFrameSignalValue()
	if err := queue.Submit(framecore.Submission{SignalTimeline: s.Timeline(), SignalValue: v}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Advance()
	s.Advance() // back on slot 0, whose submission has not signaled yet

	done := make(chan error, 1)
	go func() {
		done <- s.WaitForCurrentFrameIfNeeded()
	}()

	select {
	case <-done:
		t.Fatal("wait returned before the slot's value was signaled")
	case <-time.After(20 * time.Millisecond):
	}

	device.Flush()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForCurrentFrameIfNeeded: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not unblock after the signal")
	}
}

func TestFrameSynchronizer_WaitForAllFrames(t *testing.T) {
	s, device := newTestSynchronizer(t, 2, backend.NoopOptions{})
	queue := device.GraphicsQueue()

	// No submissions yet: returns immediately.
	if err := s.WaitForAllFrames(); err != nil {
		t.Fatalf("WaitForAllFrames on fresh synchronizer: %v", err)
	}

	for i := 0; i < 4; i++ {
		v := s.NextFrameSignalValue()
		if err := queue.Submit(framecore.Submission{SignalTimeline: s.Timeline(), SignalValue: v}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		s.Advance()
	}
	if err := s.WaitForAllFrames(); err != nil {
		t.Fatalf("WaitForAllFrames: %v", err)
	}
	if got := s.TimelineValue(); got != 4 {
		t.Errorf("TimelineValue() = %d, want 4", got)
	}
}

func TestFrameSynchronizer_EverySlotHasSignals(t *testing.T) {
	s, _ := newTestSynchronizer(t, 3, backend.NoopOptions{})

	for i := 0; i < s.FrameCount(); i++ {
		if s.CurrentImageAvailable() == nil {
			t.Errorf("slot %d: image-available signal is nil", i)
		}
		if s.CurrentWorkFinished() == nil {
			t.Errorf("slot %d: work-finished signal is nil", i)
		}
		s.Advance()
	}
}
