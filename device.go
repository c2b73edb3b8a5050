package framecore

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// Contract errors shared by device implementations.
var (
	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("framecore: not initialized")

	// ErrDeviceLost is returned when the underlying device has been lost.
	ErrDeviceLost = errors.New("framecore: device lost")

	// ErrTimelineDestroyed is returned when waiting on a destroyed timeline.
	ErrTimelineDestroyed = errors.New("framecore: timeline destroyed")
)

// Buffer is an opaque GPU buffer handle owned by the collaborator that
// created it. The core passes it through to command recording unchanged.
type Buffer any

// Image is an opaque GPU image handle owned by the collaborator that
// created it.
type Image any

// RenderTarget is an opaque handle for the render destination a pass's
// secondary command buffers inherit (render pass + framebuffer, surface
// texture, or whatever the device implementation uses).
type RenderTarget any

// ImageLayout describes the GPU-side layout of an image resource.
// Device implementations that have no layout concept treat transitions
// as usage hints.
type ImageLayout int

const (
	// LayoutUndefined means the image contents are undefined.
	LayoutUndefined ImageLayout = iota

	// LayoutTransferDst is the layout for receiving copy writes.
	LayoutTransferDst

	// LayoutShaderReadOnly is the layout for shader sampling.
	LayoutShaderReadOnly

	// LayoutGeneral permits both reads and writes from shaders.
	LayoutGeneral

	// LayoutColorAttachment is the layout for rendering output.
	LayoutColorAttachment

	// LayoutPresent is the layout for presentation.
	LayoutPresent
)

// String returns the string representation of ImageLayout.
func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	case LayoutGeneral:
		return "General"
	case LayoutColorAttachment:
		return "ColorAttachment"
	case LayoutPresent:
		return "Present"
	default:
		return "Unknown"
	}
}

// PipelineStage identifies where a submission's wait signal takes effect.
type PipelineStage int

const (
	// StageColorAttachmentOutput waits before color output writes.
	StageColorAttachmentOutput PipelineStage = iota

	// StageTransfer waits before copy operations.
	StageTransfer

	// StageAllCommands waits before any work.
	StageAllCommands
)

// Timeline is a monotonically increasing completion counter signaled by
// the device on completion of submitted batches. Comparing a value
// against Value determines whether prior work has finished without
// blocking.
//
// Timeline implementations must be safe for concurrent use: Value is
// read without external locking by the synchronizer and transfer engine.
type Timeline interface {
	// Value returns the current counter value without blocking.
	Value() uint64

	// Wait blocks until the counter reaches value.
	Wait(value uint64) error

	// WaitTimeout blocks until the counter reaches value or the timeout
	// elapses. Returns false if the timeout elapsed first.
	WaitTimeout(value uint64, timeout time.Duration) (bool, error)

	// Destroy releases the timeline. Waiting afterwards returns
	// ErrTimelineDestroyed.
	Destroy()
}

// Signal is an opaque binary synchronization handle used to order a
// submission against presentation-engine events (image acquired, work
// finished). Signals are created by the device and consumed by
// Presenter.Acquire, Queue.Submit, and Presenter.Present.
type Signal interface {
	Destroy()
}

// BufferCopy describes one region of a buffer-to-buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// CommandBuffer records device work for later submission.
//
// Recording operations do not return errors; failures surface from End.
// A CommandBuffer is not safe for concurrent use. The lock-free
// concurrency of the core comes from each thread recording into its own
// buffer (see the recording package).
type CommandBuffer interface {
	// Begin starts primary recording.
	Begin() error

	// BeginSecondary starts secondary recording that inherits the given
	// render target scope. The secondary buffer may only be replayed via
	// ExecuteCommands inside that scope.
	BeginSecondary(target RenderTarget) error

	// End finishes recording. The buffer may then be submitted once.
	End() error

	// CopyBuffer records a buffer-to-buffer copy.
	CopyBuffer(src, dst Buffer, regions []BufferCopy)

	// CopyBufferToImage records a buffer-to-image copy covering extent.
	CopyBufferToImage(src Buffer, dst Image, extent gputypes.Extent3D, layerCount uint32)

	// TransitionImage records a layout transition for all mip levels and
	// layers of dst.
	TransitionImage(dst Image, from, to ImageLayout, mipLevels, layerCount uint32)

	// ReleaseImageOwnership records a queue-family ownership release,
	// transitioning dst to layout. The consuming queue must record the
	// matching acquire before first use; the core does not enforce this.
	ReleaseImageOwnership(dst Image, layout ImageLayout, srcFamily, dstFamily, mipLevels, layerCount uint32)

	// ExecuteCommands records replay of finished secondary buffers.
	ExecuteCommands(secondaries []CommandBuffer)
}

// CommandPool allocates command buffers for one queue family.
// Pools are not safe for concurrent use; the recording package gives
// each thread its own pool per frame slot.
type CommandPool interface {
	AllocatePrimary() (CommandBuffer, error)
	AllocateSecondary() (CommandBuffer, error)

	// Reset invalidates every buffer allocated from this pool in one
	// call. Buffers become recordable again.
	Reset() error

	// Free returns one buffer to the pool. The recording matrix never
	// frees individually (it resets whole pools per frame slot); the
	// transfer engine frees each transfer's handle on retirement.
	Free(cb CommandBuffer)

	Destroy()
}

// StagingBuffer is a CPU-writable, device-readable scratch block used as
// the intermediate hop for uploads.
type StagingBuffer interface {
	// Bytes returns the mapped CPU view of the block.
	Bytes() []byte

	// Size returns the block capacity in bytes.
	Size() uint64

	Destroy()
}

// Submission is one batch handed to Queue.Submit. Exactly one timeline
// signal is attached; the binary wait/signal pair is optional and used
// only by the presentation path.
type Submission struct {
	Commands []CommandBuffer

	// Wait, if non-nil, blocks execution at WaitStage until signaled.
	Wait      Signal
	WaitStage PipelineStage

	// SignalBinary, if non-nil, is signaled when the batch completes.
	SignalBinary Signal

	// SignalTimeline is set to SignalValue when the batch completes.
	SignalTimeline Timeline
	SignalValue    uint64
}

// Queue is an execution queue handle.
// Submit is safe for concurrent use with other queues but callers must
// serialize submissions to the same queue (one frame-producing thread,
// one transfer submitter).
type Queue interface {
	// Family returns the queue family identifier, used for ownership
	// transfer barriers between distinct queues.
	Family() uint32

	Submit(sub Submission) error
}

// Device is the queue/counter provider handed to the core at
// initialization. The core never creates devices; see the backend
// package for implementations.
type Device interface {
	// Name returns the device implementation identifier
	// (e.g. "noop", "wgpu").
	Name() string

	GraphicsQueue() Queue

	// TransferQueue returns the dedicated transfer queue if the device
	// has one. ok is false when transfers share the graphics queue.
	TransferQueue() (q Queue, ok bool)

	NewTimeline() (Timeline, error)
	NewSignal() (Signal, error)
	NewCommandPool(family uint32) (CommandPool, error)
	NewStagingBuffer(size uint64) (StagingBuffer, error)

	// WaitIdle blocks until all submitted work on all queues completes.
	WaitIdle() error

	Destroy()
}

// AcquireStatus is the closed set of outcomes from Presenter.Acquire.
type AcquireStatus int

const (
	AcquireSuccess AcquireStatus = iota

	// AcquireRetryLater means no image was available within the bounded
	// wait; skip this frame and try again.
	AcquireRetryLater

	AcquireOutOfDate
	AcquireSurfaceLost
	AcquireDeviceLost
	AcquireFailed
)

// PresentStatus is the closed set of outcomes from Presenter.Present.
type PresentStatus int

const (
	PresentSuccess PresentStatus = iota

	// PresentSuboptimal means presentation succeeded but the target
	// should be recreated when convenient.
	PresentSuboptimal

	PresentOutOfDate
	PresentSurfaceLost
	PresentDeviceLost
	PresentFailed
)

// Presenter exposes the presentation target to the frame loop.
type Presenter interface {
	// Extent returns the current target size. A zero extent means the
	// window is minimized and frames should be skipped.
	Extent() (width, height uint32)

	// Acquire obtains the next presentable image index, signaling
	// imageAvailable when the image is ready. The wait is bounded by
	// timeout so the frame loop can recover from a temporarily
	// unavailable target instead of freezing.
	Acquire(timeout time.Duration, imageAvailable Signal) (imageIndex uint32, status AcquireStatus)

	// Present queues the image for presentation after wait is signaled.
	Present(imageIndex uint32, wait Signal) PresentStatus
}
