// Package sched provides the fixed worker pool and task-group
// synchronization primitive used by the frame core.
//
// A Scheduler runs arbitrary zero-argument work items across a fixed
// pool of worker goroutines plus one goroutine pinned for I/O-bound
// work. The I/O worker is kept separate so background file and asset
// loads do not contend with compute-bound recording work and sequential
// I/O keeps its cache locality.
//
// Go has no thread-local storage, so "current worker id" is delivered
// explicitly: work that needs the id for per-thread pool indexing is
// submitted with SubmitIndexed and receives it as an argument.
package sched

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dave-hillier/framecore"
)

// Scheduler configuration errors.
var (
	// ErrTooManyWorkers is returned when Start is asked for more than
	// MaxWorkers workers.
	ErrTooManyWorkers = errors.New("sched: worker count exceeds MaxWorkers")
)

// MaxWorkers is the fixed upper bound on pool size.
const MaxWorkers = 64

// NotAWorker is reported as the worker id for work executed inline
// outside the pool (submission before Start or after Shutdown).
const NotAWorker = -1

// Priority selects which run queue a task lands on. Higher priorities
// are drained first; ordering within one priority is not guaranteed
// once workers contend.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh

	numPriorities = 3
)

// task is one queued unit of work. Exactly one of fn/indexed is set.
type task struct {
	fn      func()
	indexed func(workerID int)
	group   *Group
}

func (t task) run(workerID int) {
	if t.indexed != nil {
		t.indexed(workerID)
	} else if t.fn != nil {
		t.fn()
	}
	if t.group != nil {
		t.group.done()
	}
}

// Scheduler is a fixed pool of worker goroutines plus one pinned I/O
// worker. Work submitted while the scheduler is not running executes
// synchronously inline; it is never silently dropped.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	workers int

	// queues holds one buffered channel per priority, drained
	// high-to-low by every worker.
	queues [numPriorities]chan task

	// ioQueue is a separate FIFO consumed only by the I/O worker.
	ioQueue chan task

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// Start spawns workers worker goroutines plus one I/O worker.
// workers <= 0 selects hardware concurrency minus one, floor 2.
// Start is idempotent once running.
func (s *Scheduler) Start(workers int) error {
	if s.running.Load() {
		return nil
	}
	if workers > MaxWorkers {
		return ErrTooManyWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 2 {
			workers = 2
		}
	}

	// Buffer size: a few tasks per worker hides submission latency.
	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	s.workers = workers
	for p := range s.queues {
		s.queues[p] = make(chan task, queueSize)
	}
	s.ioQueue = make(chan task, queueSize)
	s.done = make(chan struct{})

	s.running.Store(true)

	s.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go s.worker(i)
	}
	go s.ioWorker(workers)

	framecore.Logger().Info("sched: scheduler started",
		"workers", workers, "queueSize", queueSize)
	return nil
}

// NewScheduler creates and starts a scheduler. See Start for the
// worker-count rules.
func NewScheduler(workers int) (*Scheduler, error) {
	s := &Scheduler{}
	if err := s.Start(workers); err != nil {
		return nil, err
	}
	return s, nil
}

// Workers returns the number of compute workers in the pool.
func (s *Scheduler) Workers() int { return s.workers }

// IOWorkerID returns the id handed to work running on the I/O worker.
// It is distinct from every compute worker id.
func (s *Scheduler) IOWorkerID() int { return s.workers }

// IsRunning reports whether the pool is accepting work.
func (s *Scheduler) IsRunning() bool { return s.running.Load() }

// Submit enqueues work at the given priority. If group is non-nil its
// pending counter is incremented before enqueue and decremented after
// execution. If the scheduler is not running, the work executes
// synchronously inline.
func (s *Scheduler) Submit(fn func(), group *Group, priority Priority) {
	if fn == nil {
		return
	}
	s.enqueue(task{fn: fn, group: group}, priority)
}

// SubmitIndexed is Submit for work that needs the executing worker's id
// (for indexing the per-thread recording pools). Inline execution
// receives NotAWorker.
func (s *Scheduler) SubmitIndexed(fn func(workerID int), group *Group, priority Priority) {
	if fn == nil {
		return
	}
	s.enqueue(task{indexed: fn, group: group}, priority)
}

// SubmitIO enqueues work onto the FIFO consumed only by the I/O worker.
// The same inline-fallback rule as Submit applies.
func (s *Scheduler) SubmitIO(fn func(), group *Group) {
	if fn == nil {
		return
	}
	t := task{fn: fn, group: group}
	if t.group != nil {
		t.group.add(1)
	}
	if !s.running.Load() {
		t.run(NotAWorker)
		return
	}
	select {
	case s.ioQueue <- t:
	case <-s.done:
		// Pool is closing; never drop work.
		t.run(NotAWorker)
	}
}

func (s *Scheduler) enqueue(t task, priority Priority) {
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}
	if t.group != nil {
		t.group.add(1)
	}
	if !s.running.Load() {
		t.run(NotAWorker)
		return
	}
	select {
	case s.queues[priority] <- t:
	case <-s.done:
		t.run(NotAWorker)
	}
}

// worker drains the priority queues high-to-low. When nothing is
// queued it blocks on all three plus the done channel.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			s.drain(id)
			return
		default:
		}

		// Prefer higher priorities before blocking.
		select {
		case t := <-s.queues[PriorityHigh]:
			t.run(id)
			continue
		default:
		}
		select {
		case t := <-s.queues[PriorityHigh]:
			t.run(id)
			continue
		case t := <-s.queues[PriorityNormal]:
			t.run(id)
			continue
		default:
		}

		select {
		case <-s.done:
			s.drain(id)
			return
		case t := <-s.queues[PriorityHigh]:
			t.run(id)
		case t := <-s.queues[PriorityNormal]:
			t.run(id)
		case t := <-s.queues[PriorityLow]:
			t.run(id)
		}
	}
}

// ioWorker consumes the I/O FIFO only.
func (s *Scheduler) ioWorker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			s.drainIO(id)
			return
		case t := <-s.ioQueue:
			t.run(id)
		}
	}
}

// drain executes all remaining queued work before a worker exits, so
// shutdown never loses tasks (and group waiters never hang).
func (s *Scheduler) drain(id int) {
	for {
		ran := false
		for p := numPriorities - 1; p >= 0; p-- {
			select {
			case t := <-s.queues[p]:
				t.run(id)
				ran = true
			default:
			}
		}
		if !ran {
			return
		}
	}
}

func (s *Scheduler) drainIO(id int) {
	for {
		select {
		case t := <-s.ioQueue:
			t.run(id)
		default:
			return
		}
	}
}

// Shutdown stops accepting pooled work, drains both queues, and joins
// all workers. Work enqueued after Shutdown begins executes inline
// rather than being lost. Safe to call multiple times.
func (s *Scheduler) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.done)
	s.wg.Wait()
	framecore.Logger().Info("sched: scheduler stopped", "workers", s.workers)
}

// defaultScheduler is the process-wide scheduler. Exactly one pool
// should exist per process; subsystems still take the scheduler
// explicitly in their constructors, and Default exists only for
// entry-point wiring.
var (
	defaultMu        sync.Mutex
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler, starting it with the
// default worker count on first use.
func Default() *Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScheduler == nil || !defaultScheduler.IsRunning() {
		s := &Scheduler{}
		_ = s.Start(0) // default count never errors
		defaultScheduler = s
	}
	return defaultScheduler
}
