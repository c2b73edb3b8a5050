package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/dave-hillier/framecore"
	"github.com/dave-hillier/framecore/backend"
)

func init() {
	backend.Register(backend.BackendWGPU, func() (framecore.Device, error) {
		return Open()
	})
}

var (
	// ErrNoAdapter is returned when no GPU adapter can be enumerated.
	ErrNoAdapter = errors.New("wgpu: no adapter available")
)

// Device adapts a HAL device and queue to the framecore device
// contract.
type Device struct {
	instance hal.Instance
	device   hal.Device
	queue    queue
	name     string
}

// Open enumerates adapters on the Vulkan HAL backend, preferring a
// discrete or integrated GPU, and opens a device on the first match.
func Open() (*Device, error) {
	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := &Device{
		instance: instance,
		device:   openDev.Device,
		name:     selected.Info.Name,
	}
	d.queue = queue{device: d, queue: openDev.Queue}

	framecore.Logger().Info("wgpu device opened", "adapter", d.name)
	return d, nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) GraphicsQueue() framecore.Queue { return &d.queue }

// TransferQueue reports no dedicated queue: the HAL exposes a single
// queue per device, so transfers share the graphics queue.
func (d *Device) TransferQueue() (framecore.Queue, bool) { return nil, false }

func (d *Device) NewTimeline() (framecore.Timeline, error) {
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	return &timeline{device: d.device, fence: fence}, nil
}

// NewSignal returns an inert signal. HAL submissions on the single
// queue execute in order, so binary acquire/present signals have no
// HAL counterpart; ordering is carried by the timeline fence.
func (d *Device) NewSignal() (framecore.Signal, error) {
	return &signal{}, nil
}

func (d *Device) NewCommandPool(family uint32) (framecore.CommandPool, error) {
	return &commandPool{device: d}, nil
}

func (d *Device) NewStagingBuffer(size uint64) (framecore.StagingBuffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "framecore_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	return &stagingBuffer{
		device: d,
		buf:    buf,
		host:   make([]byte, size),
	}, nil
}

// WaitIdle drains the queue by submitting an empty batch with a fence
// and waiting on it.
func (d *Device) WaitIdle() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, 10*time.Second)
	if err != nil {
		return fmt.Errorf("wgpu: wait idle: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: wait idle timed out")
	}
	return nil
}

func (d *Device) Destroy() {
	d.device.Destroy()
	d.instance.Destroy()
}

type signal struct{}

func (s *signal) Destroy() {}

// timeline wraps a HAL fence. Signal values are issued by queue
// submissions; Value polls the fence forward from the last value
// known complete.
type timeline struct {
	device hal.Device
	fence  hal.Fence

	mu        sync.Mutex
	known     uint64
	issued    uint64
	destroyed bool
}

func (t *timeline) noteIssued(value uint64) {
	t.mu.Lock()
	if value > t.issued {
		t.issued = value
	}
	t.mu.Unlock()
}

func (t *timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return t.known
	}
	for t.known < t.issued {
		ok, err := t.device.Wait(t.fence, t.known+1, 0)
		if err != nil || !ok {
			break
		}
		t.known++
	}
	return t.known
}

func (t *timeline) Wait(value uint64) error {
	// The HAL wait takes a timeout; loop so callers get an unbounded
	// wait without spinning.
	for {
		ok, err := t.WaitTimeout(value, time.Second)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (t *timeline) WaitTimeout(value uint64, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return false, framecore.ErrTimelineDestroyed
	}
	if t.known >= value {
		t.mu.Unlock()
		return true, nil
	}
	t.mu.Unlock()

	ok, err := t.device.Wait(t.fence, value, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: fence wait: %w", err)
	}
	if ok {
		t.mu.Lock()
		if value > t.known {
			t.known = value
		}
		t.mu.Unlock()
	}
	return ok, nil
}

func (t *timeline) Destroy() {
	t.mu.Lock()
	if !t.destroyed {
		t.destroyed = true
		t.device.DestroyFence(t.fence)
	}
	t.mu.Unlock()
}

type stagingBuffer struct {
	device *Device
	buf    hal.Buffer
	host   []byte
}

func (s *stagingBuffer) Bytes() []byte { return s.host }
func (s *stagingBuffer) Size() uint64  { return uint64(len(s.host)) }
func (s *stagingBuffer) Destroy()      { s.device.device.DestroyBuffer(s.buf) }

// layoutUsage maps a framecore layout onto the HAL usage state the
// texture must be in for that layout.
func layoutUsage(l framecore.ImageLayout) gputypes.TextureUsage {
	switch l {
	case framecore.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	case framecore.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case framecore.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case framecore.LayoutColorAttachment, framecore.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	default:
		return gputypes.TextureUsage(0)
	}
}

// commandBuffer records into its own HAL encoder. End produces the
// finished HAL command buffer; ExecuteCommands collects secondaries'
// finished buffers for submission after the primary.
type commandBuffer struct {
	device  *Device
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
	extra   []hal.CommandBuffer
	label   string
}

func (c *commandBuffer) begin(label string) error {
	c.label = label
	encoder, err := c.device.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: label,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	c.encoder = encoder
	c.cmd = nil
	c.extra = c.extra[:0]
	return nil
}

func (c *commandBuffer) Begin() error {
	return c.begin("framecore_primary")
}

func (c *commandBuffer) BeginSecondary(target framecore.RenderTarget) error {
	return c.begin("framecore_secondary")
}

func (c *commandBuffer) End() error {
	cmd, err := c.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	c.cmd = cmd
	return nil
}

func (c *commandBuffer) CopyBuffer(src, dst framecore.Buffer, regions []framecore.BufferCopy) {
	srcBuf := c.resolveBuffer(src)
	dstBuf := dst.(hal.Buffer)

	halRegions := make([]hal.BufferCopy, len(regions))
	for i, r := range regions {
		halRegions[i] = hal.BufferCopy{
			SrcOffset: r.SrcOffset,
			DstOffset: r.DstOffset,
			Size:      r.Size,
		}
	}
	c.encoder.CopyBufferToBuffer(srcBuf, dstBuf, halRegions)
}

// resolveBuffer unwraps staging sources. Staging bytes live on the
// host until this point; WriteBuffer is queue-ordered ahead of the
// later submission, so the device copy sees the final contents.
func (c *commandBuffer) resolveBuffer(b framecore.Buffer) hal.Buffer {
	if st, ok := b.(*stagingBuffer); ok {
		c.device.queue.queue.WriteBuffer(st.buf, 0, st.host)
		return st.buf
	}
	return b.(hal.Buffer)
}

// CopyBufferToImage uploads through the queue's WriteTexture, which is
// queue-ordered ahead of the submission carrying the layout
// transitions. Data is expected tightly packed.
func (c *commandBuffer) CopyBufferToImage(src framecore.Buffer, dst framecore.Image, extent gputypes.Extent3D, layerCount uint32) {
	var data []byte
	if st, ok := src.(*stagingBuffer); ok {
		data = st.host
	}
	texture := dst.(hal.Texture)

	c.device.queue.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  texture,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  0,
			RowsPerImage: 0,
		},
		&hal.Extent3D{
			Width:              extent.Width,
			Height:             extent.Height,
			DepthOrArrayLayers: layerCount,
		},
	)
}

func (c *commandBuffer) TransitionImage(dst framecore.Image, from, to framecore.ImageLayout, mipLevels, layerCount uint32) {
	texture := dst.(hal.Texture)
	c.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: layoutUsage(from),
			NewUsage: layoutUsage(to),
		},
	}})
}

// ReleaseImageOwnership degenerates to a transition into the final
// layout: the HAL exposes one queue, so there is no family to hand
// the image to.
func (c *commandBuffer) ReleaseImageOwnership(dst framecore.Image, layout framecore.ImageLayout, srcFamily, dstFamily, mipLevels, layerCount uint32) {
	c.TransitionImage(dst, framecore.LayoutTransferDst, layout, mipLevels, layerCount)
}

func (c *commandBuffer) ExecuteCommands(secondaries []framecore.CommandBuffer) {
	for _, s := range secondaries {
		sec := s.(*commandBuffer)
		if sec.cmd != nil {
			c.extra = append(c.extra, sec.cmd)
		}
	}
}

// commandPool tracks the HAL command buffers its allocations finish
// with, so Reset can return them to the device in one pass.
type commandPool struct {
	device *Device

	mu        sync.Mutex
	allocated []*commandBuffer
}

func (p *commandPool) allocate() (framecore.CommandBuffer, error) {
	cb := &commandBuffer{device: p.device}
	p.mu.Lock()
	p.allocated = append(p.allocated, cb)
	p.mu.Unlock()
	return cb, nil
}

func (p *commandPool) AllocatePrimary() (framecore.CommandBuffer, error) {
	return p.allocate()
}

func (p *commandPool) AllocateSecondary() (framecore.CommandBuffer, error) {
	return p.allocate()
}

func (p *commandPool) Reset() error {
	p.mu.Lock()
	allocated := p.allocated
	p.allocated = nil
	p.mu.Unlock()
	for _, cb := range allocated {
		if cb.cmd != nil {
			p.device.device.FreeCommandBuffer(cb.cmd)
			cb.cmd = nil
		}
	}
	return nil
}

func (p *commandPool) Free(cb framecore.CommandBuffer) {
	c := cb.(*commandBuffer)
	p.mu.Lock()
	for i, got := range p.allocated {
		if got == c {
			p.allocated = append(p.allocated[:i], p.allocated[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	if c.cmd != nil {
		p.device.device.FreeCommandBuffer(c.cmd)
		c.cmd = nil
	}
}

func (p *commandPool) Destroy() {
	_ = p.Reset()
}

type queue struct {
	device *Device
	queue  hal.Queue
}

// Family returns 0: the HAL does not expose queue families.
func (q *queue) Family() uint32 { return 0 }

// Submit flattens each command buffer and its collected secondaries
// into one HAL submission. When the submission signals a timeline,
// its fence carries the signal value.
func (q *queue) Submit(sub framecore.Submission) error {
	var cmds []hal.CommandBuffer
	for _, cb := range sub.Commands {
		c := cb.(*commandBuffer)
		if c.cmd != nil {
			cmds = append(cmds, c.cmd)
		}
		cmds = append(cmds, c.extra...)
	}

	var fence hal.Fence
	var value uint64
	if sub.SignalTimeline != nil {
		t := sub.SignalTimeline.(*timeline)
		fence = t.fence
		value = sub.SignalValue
		t.noteIssued(value)
	}

	if err := q.queue.Submit(cmds, fence, value); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	return nil
}
