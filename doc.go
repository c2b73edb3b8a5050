// Package framecore is the frame-scheduling and concurrency core of a
// real-time renderer.
//
// # Overview
//
// framecore decides, every frame, what GPU work runs, in what order, on
// which threads, and when the CPU may safely reuse resources the GPU is
// still consuming. It is a library, not a process: the device, queues,
// and presentation target are handed to it at initialization through the
// interfaces in this package.
//
// # Architecture
//
// The module is organized into:
//   - framecore (this package): device/queue/presenter contracts,
//     FrameSynchronizer, and the FrameOrchestrator frame loop
//   - sched: fixed worker pool plus a pinned I/O worker, with TaskGroup
//     fan-out/fan-in
//   - graph: the pass-dependency graph and its wave-based execution engine
//   - recording: the per-frame, per-thread command-recording pool matrix
//   - transfer: asynchronous CPU-to-GPU uploads off the critical path
//   - backend: device registry with a built-in CPU noop device;
//     backend/wgpu adapts a gogpu/wgpu hal device
//
// # Frame flow
//
//	orchestrator.RenderFrame(dt)
//	  -> FrameSynchronizer wait (bounds frames in flight)
//	  -> Presenter.Acquire (bounded, 100ms)
//	  -> RecordingPoolMatrix.ResetFrame
//	  -> PassGraph.Execute (waves fan out across sched workers)
//	  -> Queue.Submit (signals the frame timeline)
//	  -> Presenter.Present
//	  -> FrameSynchronizer.Advance
//	  -> AsyncTransferEngine.ProcessPending
//
// # Logging
//
// framecore produces no log output by default. Call [SetLogger] to
// enable structured logging for all subpackages.
package framecore
