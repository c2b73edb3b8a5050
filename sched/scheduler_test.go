package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestScheduler_Create(t *testing.T) {
	s, err := NewScheduler(4)
	if err != nil {
		t.Fatalf("NewScheduler(4): %v", err)
	}
	defer s.Shutdown()

	if s.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", s.Workers())
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after creation")
	}
	if s.IOWorkerID() != 4 {
		t.Errorf("IOWorkerID() = %d, want 4", s.IOWorkerID())
	}
}

func TestScheduler_CreateDefaultWorkers(t *testing.T) {
	s, err := NewScheduler(0)
	if err != nil {
		t.Fatalf("NewScheduler(0): %v", err)
	}
	defer s.Shutdown()

	if s.Workers() < 2 {
		t.Errorf("Workers() = %d, want at least 2", s.Workers())
	}
}

func TestScheduler_CreateTooManyWorkers(t *testing.T) {
	if _, err := NewScheduler(MaxWorkers + 1); err != ErrTooManyWorkers {
		t.Errorf("NewScheduler(%d) error = %v, want ErrTooManyWorkers", MaxWorkers+1, err)
	}
}

func TestScheduler_Shutdown(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}

	s.Shutdown()
	if s.IsRunning() {
		t.Error("scheduler should not be running after Shutdown")
	}

	// Second shutdown is a no-op.
	s.Shutdown()
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestScheduler_SubmitAndWait(t *testing.T) {
	s, err := NewScheduler(4)
	if err != nil {
		t.Fatalf("NewScheduler(4): %v", err)
	}
	defer s.Shutdown()

	var counter atomic.Int64
	var group Group
	numTasks := 100

	for i := 0; i < numTasks; i++ {
		s.Submit(func() {
			counter.Add(1)
		}, &group, PriorityNormal)
	}
	group.Wait()

	if counter.Load() != int64(numTasks) {
		t.Errorf("counter = %d, want %d", counter.Load(), numTasks)
	}
	if group.Pending() != 0 {
		t.Errorf("Pending() = %d after Wait, want 0", group.Pending())
	}
}

func TestScheduler_SubmitAllPriorities(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}
	defer s.Shutdown()

	var counter atomic.Int64
	var group Group
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
		for i := 0; i < 10; i++ {
			s.Submit(func() { counter.Add(1) }, &group, p)
		}
	}
	group.Wait()

	if counter.Load() != 30 {
		t.Errorf("counter = %d, want 30", counter.Load())
	}
}

func TestScheduler_SubmitNilTask(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}
	defer s.Shutdown()

	var group Group
	// Should not panic or leave the group pending.
	s.Submit(nil, &group, PriorityNormal)
	group.Wait()
}

func TestScheduler_SubmitWithoutGroup(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}
	defer s.Shutdown()

	done := make(chan struct{})
	s.Submit(func() { close(done) }, nil, PriorityHigh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

// =============================================================================
// Parallel Execution Tests
// =============================================================================

// Five 10ms tasks on four workers must overlap: well under the 50ms a
// serial run would need.
func TestScheduler_TasksRunInParallel(t *testing.T) {
	s, err := NewScheduler(4)
	if err != nil {
		t.Fatalf("NewScheduler(4): %v", err)
	}
	defer s.Shutdown()

	var group Group
	start := time.Now()
	for i := 0; i < 5; i++ {
		s.Submit(func() {
			time.Sleep(10 * time.Millisecond)
		}, &group, PriorityNormal)
	}
	group.Wait()
	elapsed := time.Since(start)

	if elapsed >= 50*time.Millisecond {
		t.Errorf("elapsed = %v, want < 50ms (tasks did not overlap)", elapsed)
	}
}

// =============================================================================
// SubmitIndexed Tests
// =============================================================================

func TestScheduler_SubmitIndexed(t *testing.T) {
	const workers = 4
	s, err := NewScheduler(workers)
	if err != nil {
		t.Fatalf("NewScheduler(%d): %v", workers, err)
	}
	defer s.Shutdown()

	var mu sync.Mutex
	seen := make(map[int]bool)
	var group Group

	for i := 0; i < 64; i++ {
		s.SubmitIndexed(func(workerID int) {
			mu.Lock()
			seen[workerID] = true
			mu.Unlock()
		}, &group, PriorityNormal)
	}
	group.Wait()

	for id := range seen {
		if id < 0 || id >= workers {
			t.Errorf("worker id %d out of range [0,%d)", id, workers)
		}
	}
	if len(seen) == 0 {
		t.Error("no worker ids observed")
	}
}

// =============================================================================
// I/O Queue Tests
// =============================================================================

func TestScheduler_SubmitIO(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}
	defer s.Shutdown()

	var order []int
	var mu sync.Mutex
	var group Group

	// The I/O worker is a single goroutine, so I/O tasks run FIFO.
	for i := 0; i < 10; i++ {
		idx := i
		s.SubmitIO(func() {
			mu.Lock()
			order = append(order, idx)
			mu.Unlock()
		}, &group)
	}
	group.Wait()

	if len(order) != 10 {
		t.Fatalf("len(order) = %d, want 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d (I/O queue must be FIFO)", i, v, i)
		}
	}
}

// =============================================================================
// Inline Fallback Tests
// =============================================================================

func TestScheduler_SubmitAfterShutdownRunsInline(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}
	s.Shutdown()

	var ran atomic.Bool
	var group Group
	s.Submit(func() { ran.Store(true) }, &group, PriorityNormal)
	group.Wait()

	if !ran.Load() {
		t.Error("task submitted after shutdown must run inline, not be dropped")
	}

	gotID := NotAWorker - 1
	s.SubmitIndexed(func(workerID int) { gotID = workerID }, nil, PriorityNormal)
	if gotID != NotAWorker {
		t.Errorf("inline workerID = %d, want NotAWorker (%d)", gotID, NotAWorker)
	}
}

func TestScheduler_ShutdownDrainsQueues(t *testing.T) {
	s, err := NewScheduler(2)
	if err != nil {
		t.Fatalf("NewScheduler(2): %v", err)
	}

	var counter atomic.Int64
	var group Group
	for i := 0; i < 50; i++ {
		s.Submit(func() { counter.Add(1) }, &group, PriorityLow)
	}
	s.SubmitIO(func() { counter.Add(1) }, &group)
	s.Shutdown()
	group.Wait()

	if counter.Load() != 51 {
		t.Errorf("counter = %d, want 51 (queued tasks must drain on shutdown)", counter.Load())
	}
}

// =============================================================================
// Group Tests
// =============================================================================

func TestGroup_WaitOnIdleGroup(t *testing.T) {
	var group Group
	// Must not block.
	group.Wait()
	if group.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", group.Pending())
	}
}

func TestGroup_ConcurrentWaiters(t *testing.T) {
	s, err := NewScheduler(4)
	if err != nil {
		t.Fatalf("NewScheduler(4): %v", err)
	}
	defer s.Shutdown()

	var group Group
	for i := 0; i < 20; i++ {
		s.Submit(func() {
			time.Sleep(time.Millisecond)
		}, &group, PriorityNormal)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			group.Wait()
		}()
	}
	wg.Wait()

	if group.Pending() != 0 {
		t.Errorf("Pending() = %d after all waiters returned, want 0", group.Pending())
	}
}

// =============================================================================
// Default Scheduler Tests
// =============================================================================

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() must return the same scheduler")
	}
	if !a.IsRunning() {
		t.Error("default scheduler should be running")
	}
}
