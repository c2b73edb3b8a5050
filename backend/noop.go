package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/dave-hillier/framecore"
)

func init() {
	Register(BackendNoop, func() (framecore.Device, error) {
		return NewNoopDevice(NoopOptions{}), nil
	})
}

// NoopOptions configures the host device.
type NoopOptions struct {
	// DedicatedTransferQueue exposes a second queue family so callers
	// exercise the ownership-transfer path.
	DedicatedTransferQueue bool

	// Manual defers timeline signals until Flush is called. Submitted
	// commands still execute immediately; only completion is held
	// back. Tests use this to control when work appears finished.
	Manual bool
}

// NoopDevice executes command buffers in host memory. Buffer copies
// and image uploads move real bytes, layouts and ownership transfers
// are tracked on the target objects, and timelines behave like the
// hardware ones. It backs headless runs and the package tests.
type NoopDevice struct {
	opts NoopOptions

	graphics noopQueue
	transfer noopQueue

	mu       sync.Mutex
	deferred []deferredSignal
}

type deferredSignal struct {
	timeline *noopTimeline
	value    uint64
}

// NewNoopDevice creates a host device.
func NewNoopDevice(opts NoopOptions) *NoopDevice {
	d := &NoopDevice{opts: opts}
	d.graphics = noopQueue{device: d, family: 0}
	d.transfer = noopQueue{device: d, family: 1}
	return d
}

func (d *NoopDevice) Name() string { return BackendNoop }

func (d *NoopDevice) GraphicsQueue() framecore.Queue { return &d.graphics }

func (d *NoopDevice) TransferQueue() (framecore.Queue, bool) {
	if !d.opts.DedicatedTransferQueue {
		return nil, false
	}
	return &d.transfer, true
}

func (d *NoopDevice) NewTimeline() (framecore.Timeline, error) {
	return newNoopTimeline(), nil
}

func (d *NoopDevice) NewSignal() (framecore.Signal, error) {
	return &noopSignal{}, nil
}

func (d *NoopDevice) NewCommandPool(family uint32) (framecore.CommandPool, error) {
	return &noopPool{}, nil
}

func (d *NoopDevice) NewStagingBuffer(size uint64) (framecore.StagingBuffer, error) {
	return &noopStaging{data: make([]byte, size)}, nil
}

// WaitIdle releases every deferred signal, then returns.
func (d *NoopDevice) WaitIdle() error {
	d.Flush()
	return nil
}

func (d *NoopDevice) Destroy() {
	d.Flush()
}

// Flush signals every submission held back by Manual mode, in
// submission order. A no-op outside Manual mode.
func (d *NoopDevice) Flush() {
	d.mu.Lock()
	deferred := d.deferred
	d.deferred = nil
	d.mu.Unlock()
	for _, s := range deferred {
		s.timeline.signal(s.value)
	}
}

// NewHostBuffer allocates a destination buffer for copies. Host
// buffers are what this device accepts as framecore.Buffer.
func (d *NoopDevice) NewHostBuffer(size uint64) *HostBuffer {
	return &HostBuffer{data: make([]byte, size)}
}

// NewHostImage allocates a destination image. Pixel storage is sized
// by the caller to match the data it will upload.
func (d *NoopDevice) NewHostImage(size uint64) *HostImage {
	return &HostImage{pixels: make([]byte, size), layout: framecore.LayoutUndefined}
}

// HostBuffer is the device-local buffer of the host device.
type HostBuffer struct {
	mu   sync.Mutex
	data []byte
}

// Bytes returns a copy of the buffer contents.
func (b *HostBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *HostBuffer) write(offset uint64, src []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.data[offset:], src)
}

// HostImage is the device-local image of the host device. It records
// the layout transitions and ownership releases applied to it.
type HostImage struct {
	mu         sync.Mutex
	pixels     []byte
	layout     framecore.ImageLayout
	released   bool
	releasedTo uint32
}

// Bytes returns a copy of the pixel contents.
func (img *HostImage) Bytes() []byte {
	img.mu.Lock()
	defer img.mu.Unlock()
	out := make([]byte, len(img.pixels))
	copy(out, img.pixels)
	return out
}

// Layout returns the image's current layout.
func (img *HostImage) Layout() framecore.ImageLayout {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.layout
}

// Released reports whether ownership was released, and to which
// queue family.
func (img *HostImage) Released() (bool, uint32) {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.released, img.releasedTo
}

type noopSignal struct{}

func (s *noopSignal) Destroy() {}

// noopTimeline is a monotonic counter with blocking waits. Each
// signal replaces the broadcast channel so waiters re-check the value.
type noopTimeline struct {
	mu        sync.Mutex
	value     uint64
	changed   chan struct{}
	destroyed bool
}

func newNoopTimeline() *noopTimeline {
	return &noopTimeline{changed: make(chan struct{})}
}

func (t *noopTimeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *noopTimeline) signal(value uint64) {
	t.mu.Lock()
	if value > t.value {
		t.value = value
	}
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

func (t *noopTimeline) Wait(value uint64) error {
	for {
		t.mu.Lock()
		if t.destroyed {
			t.mu.Unlock()
			return framecore.ErrTimelineDestroyed
		}
		if t.value >= value {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()
		<-ch
	}
}

func (t *noopTimeline) WaitTimeout(value uint64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		if t.destroyed {
			t.mu.Unlock()
			return false, framecore.ErrTimelineDestroyed
		}
		if t.value >= value {
			t.mu.Unlock()
			return true, nil
		}
		ch := t.changed
		t.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return false, nil
		}
	}
}

func (t *noopTimeline) Destroy() {
	t.mu.Lock()
	t.destroyed = true
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

type noopStaging struct {
	data []byte
}

func (s *noopStaging) Bytes() []byte { return s.data }
func (s *noopStaging) Size() uint64  { return uint64(len(s.data)) }
func (s *noopStaging) Destroy()      {}

// noopCommandBuffer accumulates recorded operations as closures that
// run at submit time.
type noopCommandBuffer struct {
	ops       []func()
	recording bool
	recorded  bool
	secondary bool
}

func (c *noopCommandBuffer) Begin() error {
	c.ops = c.ops[:0]
	c.recording = true
	c.recorded = false
	return nil
}

func (c *noopCommandBuffer) BeginSecondary(target framecore.RenderTarget) error {
	c.ops = c.ops[:0]
	c.recording = true
	c.recorded = false
	c.secondary = true
	return nil
}

func (c *noopCommandBuffer) End() error {
	c.recording = false
	c.recorded = true
	return nil
}

func sourceBytes(src framecore.Buffer) []byte {
	switch s := src.(type) {
	case framecore.StagingBuffer:
		return s.Bytes()
	case *HostBuffer:
		return s.Bytes()
	default:
		panic(fmt.Sprintf("noop: unsupported copy source %T", src))
	}
}

func (c *noopCommandBuffer) CopyBuffer(src, dst framecore.Buffer, regions []framecore.BufferCopy) {
	target := dst.(*HostBuffer)
	regs := make([]framecore.BufferCopy, len(regions))
	copy(regs, regions)
	c.ops = append(c.ops, func() {
		data := sourceBytes(src)
		for _, r := range regs {
			target.write(r.DstOffset, data[r.SrcOffset:r.SrcOffset+r.Size])
		}
	})
}

func (c *noopCommandBuffer) CopyBufferToImage(src framecore.Buffer, dst framecore.Image, extent gputypes.Extent3D, layerCount uint32) {
	target := dst.(*HostImage)
	c.ops = append(c.ops, func() {
		data := sourceBytes(src)
		target.mu.Lock()
		copy(target.pixels, data)
		target.mu.Unlock()
	})
}

func (c *noopCommandBuffer) TransitionImage(dst framecore.Image, from, to framecore.ImageLayout, mipLevels, layerCount uint32) {
	target := dst.(*HostImage)
	c.ops = append(c.ops, func() {
		target.mu.Lock()
		target.layout = to
		target.mu.Unlock()
	})
}

func (c *noopCommandBuffer) ReleaseImageOwnership(dst framecore.Image, layout framecore.ImageLayout, srcFamily, dstFamily, mipLevels, layerCount uint32) {
	target := dst.(*HostImage)
	c.ops = append(c.ops, func() {
		target.mu.Lock()
		target.layout = layout
		target.released = true
		target.releasedTo = dstFamily
		target.mu.Unlock()
	})
}

func (c *noopCommandBuffer) ExecuteCommands(secondaries []framecore.CommandBuffer) {
	for _, s := range secondaries {
		sec := s.(*noopCommandBuffer)
		c.ops = append(c.ops, sec.ops...)
	}
}

type noopPool struct{}

func (p *noopPool) AllocatePrimary() (framecore.CommandBuffer, error) {
	return &noopCommandBuffer{}, nil
}

func (p *noopPool) AllocateSecondary() (framecore.CommandBuffer, error) {
	return &noopCommandBuffer{secondary: true}, nil
}

func (p *noopPool) Reset() error { return nil }

func (p *noopPool) Free(cb framecore.CommandBuffer) {}

func (p *noopPool) Destroy() {}

type noopQueue struct {
	device *NoopDevice
	family uint32
}

func (q *noopQueue) Family() uint32 { return q.family }

// Submit runs the recorded operations immediately, then signals the
// submission's timeline (or defers the signal in Manual mode).
func (q *noopQueue) Submit(sub framecore.Submission) error {
	for _, cb := range sub.Commands {
		cmd := cb.(*noopCommandBuffer)
		for _, op := range cmd.ops {
			op()
		}
	}
	if sub.SignalTimeline != nil {
		timeline := sub.SignalTimeline.(*noopTimeline)
		if q.device.opts.Manual {
			q.device.mu.Lock()
			q.device.deferred = append(q.device.deferred, deferredSignal{
				timeline: timeline,
				value:    sub.SignalValue,
			})
			q.device.mu.Unlock()
		} else {
			timeline.signal(sub.SignalValue)
		}
	}
	return nil
}
