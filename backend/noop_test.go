package backend

import (
	"bytes"
	"testing"
	"time"

	"github.com/dave-hillier/framecore"
)

// =============================================================================
// Timeline Tests
// =============================================================================

func TestNoopTimeline_MonotonicValue(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})
	timeline, err := device.NewTimeline()
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	defer timeline.Destroy()

	if timeline.Value() != 0 {
		t.Errorf("fresh timeline Value() = %d, want 0", timeline.Value())
	}

	queue := device.GraphicsQueue()
	for i := uint64(1); i <= 3; i++ {
		err := queue.Submit(framecore.Submission{SignalTimeline: timeline, SignalValue: i})
		if err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
		if timeline.Value() != i {
			t.Errorf("Value() = %d, want %d", timeline.Value(), i)
		}
	}
}

func TestNoopTimeline_WaitTimeout(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})
	timeline, err := device.NewTimeline()
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	defer timeline.Destroy()

	reached, err := timeline.WaitTimeout(1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if reached {
		t.Error("WaitTimeout must time out on an unsignaled value")
	}

	queue := device.GraphicsQueue()
	if err := queue.Submit(framecore.Submission{SignalTimeline: timeline, SignalValue: 5}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A signal at 5 satisfies every wait at or below it.
	reached, err = timeline.WaitTimeout(3, time.Second)
	if err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if !reached {
		t.Error("WaitTimeout must succeed once the counter passed the value")
	}
	if err := timeline.Wait(5); err != nil {
		t.Errorf("Wait(5): %v", err)
	}
}

func TestNoopTimeline_WaitUnblocksOnSignal(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})
	timeline, err := device.NewTimeline()
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	defer timeline.Destroy()

	done := make(chan error, 1)
	go func() {
		done <- timeline.Wait(1)
	}()

	queue := device.GraphicsQueue()
	if err := queue.Submit(framecore.Submission{SignalTimeline: timeline, SignalValue: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not unblock after the signal")
	}
}

func TestNoopTimeline_DestroyUnblocksWaiters(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})
	timeline, err := device.NewTimeline()
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- timeline.Wait(1)
	}()
	time.Sleep(10 * time.Millisecond)

	timeline.Destroy()

	select {
	case err := <-done:
		if err != framecore.ErrTimelineDestroyed {
			t.Errorf("Wait after Destroy = %v, want ErrTimelineDestroyed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not unblock the waiter")
	}
}

// =============================================================================
// Manual Mode Tests
// =============================================================================

func TestNoopDevice_ManualModeDefersSignals(t *testing.T) {
	device := NewNoopDevice(NoopOptions{Manual: true})
	timeline, err := device.NewTimeline()
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	defer timeline.Destroy()

	queue := device.GraphicsQueue()
	if err := queue.Submit(framecore.Submission{SignalTimeline: timeline, SignalValue: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if timeline.Value() != 0 {
		t.Errorf("Value() = %d before Flush, want 0", timeline.Value())
	}

	device.Flush()
	if timeline.Value() != 1 {
		t.Errorf("Value() = %d after Flush, want 1", timeline.Value())
	}
}

// =============================================================================
// Command Execution Tests
// =============================================================================

func TestNoopDevice_CommandsExecuteOnSubmit(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})

	pool, err := device.NewCommandPool(0)
	if err != nil {
		t.Fatalf("NewCommandPool: %v", err)
	}
	defer pool.Destroy()

	staging, err := device.NewStagingBuffer(8)
	if err != nil {
		t.Fatalf("NewStagingBuffer: %v", err)
	}
	copy(staging.Bytes(), "abcdefgh")
	dst := device.NewHostBuffer(8)

	cmd, err := pool.AllocatePrimary()
	if err != nil {
		t.Fatalf("AllocatePrimary: %v", err)
	}
	if err := cmd.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cmd.CopyBuffer(staging, dst, []framecore.BufferCopy{{SrcOffset: 2, DstOffset: 0, Size: 4}})
	if err := cmd.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := device.GraphicsQueue().Submit(framecore.Submission{
		Commands: []framecore.CommandBuffer{cmd},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := dst.Bytes()[:4]; !bytes.Equal(got, []byte("cdef")) {
		t.Errorf("destination = %q, want %q", got, "cdef")
	}
}

func TestNoopDevice_ExecuteCommandsFlattensSecondaries(t *testing.T) {
	device := NewNoopDevice(NoopOptions{})

	pool, err := device.NewCommandPool(0)
	if err != nil {
		t.Fatalf("NewCommandPool: %v", err)
	}
	defer pool.Destroy()

	staging, _ := device.NewStagingBuffer(4)
	copy(staging.Bytes(), "data")
	dst := device.NewHostBuffer(4)

	secondary, err := pool.AllocateSecondary()
	if err != nil {
		t.Fatalf("AllocateSecondary: %v", err)
	}
	if err := secondary.BeginSecondary("target"); err != nil {
		t.Fatalf("BeginSecondary: %v", err)
	}
	secondary.CopyBuffer(staging, dst, []framecore.BufferCopy{{Size: 4}})
	if err := secondary.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	primary, _ := pool.AllocatePrimary()
	if err := primary.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	primary.ExecuteCommands([]framecore.CommandBuffer{secondary})
	if err := primary.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := device.GraphicsQueue().Submit(framecore.Submission{
		Commands: []framecore.CommandBuffer{primary},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !bytes.Equal(dst.Bytes(), []byte("data")) {
		t.Errorf("destination = %q, want %q", dst.Bytes(), "data")
	}
}

func TestNoopDevice_TransferQueueOption(t *testing.T) {
	plain := NewNoopDevice(NoopOptions{})
	if _, ok := plain.TransferQueue(); ok {
		t.Error("plain device must not expose a transfer queue")
	}

	dedicated := NewNoopDevice(NoopOptions{DedicatedTransferQueue: true})
	q, ok := dedicated.TransferQueue()
	if !ok {
		t.Fatal("dedicated device must expose a transfer queue")
	}
	if q.Family() == dedicated.GraphicsQueue().Family() {
		t.Error("transfer queue family must differ from graphics")
	}
}
