// Package transfer moves CPU data to device-local memory without
// stalling frame recording. Each upload is staged into a pooled
// host-visible buffer, recorded into its own command buffer, and
// submitted with a timeline signal. Completion is detected by a single
// counter read per poll rather than per-transfer fences, so the frame
// loop can retire any number of uploads with one call.
//
// When the device exposes a dedicated transfer queue, image uploads
// that end in a sampled or general layout record a queue-family
// ownership release; the consuming pass on the graphics queue is
// expected to perform the matching acquire.
package transfer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/dave-hillier/framecore"
)

// ErrEmptyTransfer is returned when a transfer is submitted with no data.
var ErrEmptyTransfer = errors.New("transfer: empty transfer")

// Handle identifies one submitted transfer. The zero Handle is invalid
// and is treated as already complete.
type Handle struct {
	id uint64
}

// IsValid reports whether the handle refers to a submitted transfer.
func (h Handle) IsValid() bool { return h.id != 0 }

// CompletionCallback runs after a transfer's GPU work has finished and
// its staging memory has been recycled. Callbacks fire at most once,
// from whichever goroutine retires the transfer, outside engine locks.
type CompletionCallback func()

// pending tracks one in-flight transfer until its timeline value is
// reached.
type pending struct {
	id         uint64
	value      uint64
	cmd        framecore.CommandBuffer
	staging    framecore.StagingBuffer
	onComplete CompletionCallback
}

// Engine owns a transfer queue, a command pool, a staging pool, and a
// timeline counter. SubmitBufferTransfer and SubmitImageTransfer may be
// called from one goroutine at a time; polling and waiting are safe
// from any goroutine.
type Engine struct {
	device    framecore.Device
	queue     framecore.Queue
	dedicated bool

	// graphicsFamily is the ownership-transfer destination for image
	// uploads consumed by rendering.
	graphicsFamily uint32

	submitMu sync.Mutex // serializes pool allocation and queue submission
	pool     framecore.CommandPool
	timeline framecore.Timeline
	staging  *stagingPool

	nextID    atomic.Uint64
	nextValue atomic.Uint64

	mu      sync.Mutex
	pending []pending
}

// NewEngine creates a transfer engine on the device's dedicated
// transfer queue when one exists, falling back to the graphics queue
// otherwise.
func NewEngine(device framecore.Device) (*Engine, error) {
	queue, dedicated := device.TransferQueue()
	if !dedicated {
		queue = device.GraphicsQueue()
	}

	timeline, err := device.NewTimeline()
	if err != nil {
		return nil, err
	}
	pool, err := device.NewCommandPool(queue.Family())
	if err != nil {
		timeline.Destroy()
		return nil, err
	}

	framecore.Logger().Info("transfer engine ready",
		"dedicatedQueue", dedicated,
		"queueFamily", queue.Family())

	return &Engine{
		device:         device,
		queue:          queue,
		dedicated:      dedicated,
		graphicsFamily: device.GraphicsQueue().Family(),
		pool:           pool,
		timeline:       timeline,
		staging:        newStagingPool(device),
	}, nil
}

// DedicatedQueue reports whether uploads run on a queue separate from
// graphics work.
func (e *Engine) DedicatedQueue() bool { return e.dedicated }

// SubmitBufferTransfer stages data and records a copy into dst at
// dstOffset. The returned handle completes when the copy has executed
// on the transfer queue.
func (e *Engine) SubmitBufferTransfer(data []byte, dst framecore.Buffer, dstOffset uint64, onComplete CompletionCallback) (Handle, error) {
	if len(data) == 0 {
		return Handle{}, ErrEmptyTransfer
	}

	st, err := e.staging.acquire(uint64(len(data)))
	if err != nil {
		return Handle{}, err
	}
	copy(st.Bytes(), data)

	e.submitMu.Lock()
	cmd, err := e.pool.AllocatePrimary()
	if err != nil {
		e.submitMu.Unlock()
		e.staging.release(st)
		return Handle{}, err
	}
	if err := cmd.Begin(); err != nil {
		e.finishFailed(cmd, st)
		return Handle{}, err
	}
	cmd.CopyBuffer(st, dst, []framecore.BufferCopy{{
		SrcOffset: 0,
		DstOffset: dstOffset,
		Size:      uint64(len(data)),
	}})
	if err := cmd.End(); err != nil {
		e.finishFailed(cmd, st)
		return Handle{}, err
	}

	return e.submit(cmd, st, onComplete)
}

// SubmitImageTransfer stages data and records an upload into dst,
// transitioning the image from an undefined layout through transfer
// destination into finalLayout. On a dedicated transfer queue, uploads
// bound for shader reads record an ownership release to the graphics
// family instead of the final transition.
func (e *Engine) SubmitImageTransfer(data []byte, dst framecore.Image, extent gputypes.Extent3D, finalLayout framecore.ImageLayout, mipLevels, layerCount uint32, onComplete CompletionCallback) (Handle, error) {
	if len(data) == 0 {
		return Handle{}, ErrEmptyTransfer
	}
	if mipLevels == 0 {
		mipLevels = 1
	}
	if layerCount == 0 {
		layerCount = 1
	}

	st, err := e.staging.acquire(uint64(len(data)))
	if err != nil {
		return Handle{}, err
	}
	copy(st.Bytes(), data)

	e.submitMu.Lock()
	cmd, err := e.pool.AllocatePrimary()
	if err != nil {
		e.submitMu.Unlock()
		e.staging.release(st)
		return Handle{}, err
	}
	if err := cmd.Begin(); err != nil {
		e.finishFailed(cmd, st)
		return Handle{}, err
	}

	cmd.TransitionImage(dst, framecore.LayoutUndefined, framecore.LayoutTransferDst, mipLevels, layerCount)
	cmd.CopyBufferToImage(st, dst, extent, layerCount)

	releaseOwnership := e.dedicated &&
		(finalLayout == framecore.LayoutShaderReadOnly || finalLayout == framecore.LayoutGeneral)
	if releaseOwnership {
		cmd.ReleaseImageOwnership(dst, finalLayout, e.queue.Family(), e.graphicsFamily, mipLevels, layerCount)
	} else {
		cmd.TransitionImage(dst, framecore.LayoutTransferDst, finalLayout, mipLevels, layerCount)
	}

	if err := cmd.End(); err != nil {
		e.finishFailed(cmd, st)
		return Handle{}, err
	}

	return e.submit(cmd, st, onComplete)
}

// submit signals the next timeline value for cmd and tracks the
// transfer. Caller holds submitMu; submit releases it.
func (e *Engine) submit(cmd framecore.CommandBuffer, st framecore.StagingBuffer, onComplete CompletionCallback) (Handle, error) {
	value := e.nextValue.Add(1)
	err := e.queue.Submit(framecore.Submission{
		Commands:       []framecore.CommandBuffer{cmd},
		SignalTimeline: e.timeline,
		SignalValue:    value,
	})
	e.submitMu.Unlock()
	if err != nil {
		e.staging.release(st)
		e.freeCommand(cmd)
		return Handle{}, err
	}

	id := e.nextID.Add(1)
	e.mu.Lock()
	e.pending = append(e.pending, pending{
		id:         id,
		value:      value,
		cmd:        cmd,
		staging:    st,
		onComplete: onComplete,
	})
	e.mu.Unlock()

	framecore.Logger().Debug("transfer submitted", "id", id, "value", value)
	return Handle{id: id}, nil
}

// finishFailed releases resources for a transfer that failed before
// submission. Caller holds submitMu; finishFailed releases it.
func (e *Engine) finishFailed(cmd framecore.CommandBuffer, st framecore.StagingBuffer) {
	e.pool.Free(cmd)
	e.submitMu.Unlock()
	e.staging.release(st)
}

func (e *Engine) freeCommand(cmd framecore.CommandBuffer) {
	e.submitMu.Lock()
	e.pool.Free(cmd)
	e.submitMu.Unlock()
}

// IsComplete reports whether the transfer has finished. Invalid and
// unknown handles count as complete, so callers can poll a handle they
// already retired.
func (e *Engine) IsComplete(h Handle) bool {
	if !h.IsValid() {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.pending {
		if e.pending[i].id == h.id {
			return e.timeline.Value() >= e.pending[i].value
		}
	}
	return true
}

// Wait blocks until the transfer completes, then retires every
// transfer whose work has finished. Waiting on an invalid or already
// retired handle returns immediately.
func (e *Engine) Wait(h Handle) error {
	if !h.IsValid() {
		return nil
	}
	e.mu.Lock()
	var value uint64
	for i := range e.pending {
		if e.pending[i].id == h.id {
			value = e.pending[i].value
			break
		}
	}
	e.mu.Unlock()
	if value == 0 {
		return nil
	}
	if err := e.timeline.Wait(value); err != nil {
		return err
	}
	e.ProcessPending()
	return nil
}

// ProcessPending retires every transfer the timeline has passed: the
// command buffer returns to the pool, the staging block returns to the
// staging pool, and the completion callback (if any) fires. One
// counter read covers all pending transfers. Returns how many were
// retired.
func (e *Engine) ProcessPending() int {
	completed := e.timeline.Value()

	e.mu.Lock()
	var done []pending
	kept := e.pending[:0]
	for _, p := range e.pending {
		if p.value <= completed {
			done = append(done, p)
		} else {
			kept = append(kept, p)
		}
	}
	e.pending = kept
	e.mu.Unlock()

	for _, p := range done {
		e.freeCommand(p.cmd)
		e.staging.release(p.staging)
		if p.onComplete != nil {
			p.onComplete()
		}
	}
	if len(done) > 0 {
		framecore.Logger().Debug("transfers retired", "count", len(done), "completed", completed)
	}
	return len(done)
}

// WaitAll blocks until every submitted transfer completes, then
// retires them.
func (e *Engine) WaitAll() error {
	e.mu.Lock()
	var max uint64
	for i := range e.pending {
		if e.pending[i].value > max {
			max = e.pending[i].value
		}
	}
	e.mu.Unlock()
	if max == 0 {
		return nil
	}
	if err := e.timeline.Wait(max); err != nil {
		return err
	}
	e.ProcessPending()
	return nil
}

// PendingCount reports how many transfers have not yet been retired.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Destroy waits for outstanding transfers and releases the engine's
// pools and timeline.
func (e *Engine) Destroy() {
	if err := e.WaitAll(); err != nil {
		framecore.Logger().Error("transfer engine shutdown wait failed", "error", err)
	}
	e.staging.destroy()
	e.pool.Destroy()
	e.timeline.Destroy()
}
