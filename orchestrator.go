package framecore

import (
	"errors"
	"time"
)

// acquireTimeout bounds how long a frame waits for a presentable
// image before giving up and skipping the frame.
const acquireTimeout = 100 * time.Millisecond

// ErrMissingDevice and friends report invalid orchestrator setup.
var (
	ErrMissingDevice    = errors.New("framecore: orchestrator requires a device")
	ErrMissingPresenter = errors.New("framecore: orchestrator requires a presenter")
	ErrMissingSync      = errors.New("framecore: orchestrator requires a frame synchronizer")
)

// BuildContext is handed to the frame build callback once a frame slot
// and presentable image are held.
type BuildContext struct {
	FrameIndex int
	ImageIndex uint32
	DeltaTime  float64
	UserData   any
}

// BuildFunc records one frame's commands. Returning ok=false skips the
// frame: nothing is submitted and the synchronizer does not advance.
type BuildFunc func(ctx BuildContext) (commands []CommandBuffer, ok bool)

// FrameRecorder is the per-frame command pool surface the orchestrator
// resets at the top of each frame. *recording.Matrix satisfies it.
type FrameRecorder interface {
	ResetFrame(frame int) error
}

// TransferPoller retires finished asynchronous uploads. The
// orchestrator polls it once per presented frame. *transfer.Engine
// satisfies it.
type TransferPoller interface {
	ProcessPending() int
}

// InitParams configures an Orchestrator. Device, Presenter, Sync and
// Build are required; Recorder, Transfers and UserData are optional.
type InitParams struct {
	Device    Device
	Presenter Presenter
	Sync      *FrameSynchronizer
	Build     BuildFunc

	Recorder  FrameRecorder
	Transfers TransferPoller
	UserData  any
}

// Orchestrator drives the frame loop: slot wait, image acquire, frame
// build, submit with the slot's wait/signal pair, present, advance.
// It is confined to the render goroutine and holds no locks.
//
// Surface and device loss never terminate the loop. They mark the
// orchestrator resize-needed and surface as the frame's result; the
// host recreates what it owns, calls ClearResizeNeeded, and keeps
// rendering.
type Orchestrator struct {
	device    Device
	presenter Presenter
	sync      *FrameSynchronizer
	build     BuildFunc
	recorder  FrameRecorder
	transfers TransferPoller
	userData  any

	suspended    bool
	resizeNeeded bool
}

// NewOrchestrator validates params and returns an orchestrator.
func NewOrchestrator(params InitParams) (*Orchestrator, error) {
	if params.Device == nil {
		return nil, ErrMissingDevice
	}
	if params.Presenter == nil {
		return nil, ErrMissingPresenter
	}
	if params.Sync == nil {
		return nil, ErrMissingSync
	}

	Logger().Info("orchestrator initialized",
		"device", params.Device.Name(),
		"framesInFlight", params.Sync.FrameCount())

	return &Orchestrator{
		device:    params.Device,
		presenter: params.Presenter,
		sync:      params.Sync,
		build:     params.Build,
		recorder:  params.Recorder,
		transfers: params.Transfers,
		userData:  params.UserData,
	}, nil
}

// SetSuspended gates rendering while the window is hidden. Suspended
// frames report FrameSkipped without touching the device.
func (o *Orchestrator) SetSuspended(suspended bool) {
	o.suspended = suspended
}

// ResizeNeeded reports whether the presentable surface must be
// recreated before the next frame can succeed.
func (o *Orchestrator) ResizeNeeded() bool { return o.resizeNeeded }

// ClearResizeNeeded acknowledges a completed surface recreation.
func (o *Orchestrator) ClearResizeNeeded() { o.resizeNeeded = false }

// RenderFrame runs one whole frame. The returned result reports why a
// frame did not complete; only FrameDeviceLost and FrameSurfaceLost
// need host intervention beyond a resize.
func (o *Orchestrator) RenderFrame(deltaTime float64) FrameResult {
	imageIndex, result := o.BeginFrame()
	if result != FrameSuccess {
		return result
	}

	if o.build == nil {
		return FrameSkipped
	}
	commands, ok := o.build(BuildContext{
		FrameIndex: o.sync.CurrentSlot(),
		ImageIndex: imageIndex,
		DeltaTime:  deltaTime,
		UserData:   o.userData,
	})
	if !ok {
		return FrameSkipped
	}

	if result := o.Submit(commands); result != FrameSuccess {
		return result
	}
	return o.Present(imageIndex)
}

// BeginFrame waits for the current frame slot, acquires a presentable
// image, and resets the slot's command pools. On FrameSuccess the
// frame is open and must be finished with Submit and Present.
func (o *Orchestrator) BeginFrame() (uint32, FrameResult) {
	if o.suspended {
		return 0, FrameSkipped
	}
	if o.resizeNeeded {
		return 0, FrameOutOfDate
	}
	width, height := o.presenter.Extent()
	if width == 0 || height == 0 {
		return 0, FrameSkipped
	}

	slotWaitStart := time.Now()
	if err := o.sync.WaitForCurrentFrameIfNeeded(); err != nil {
		Logger().Error("frame slot wait failed", "error", err)
		return 0, FrameDeviceLost
	}
	slotWait := time.Since(slotWaitStart)

	acquireStart := time.Now()
	imageIndex, status := o.presenter.Acquire(acquireTimeout, o.sync.CurrentImageAvailable())
	Logger().Debug("frame begin",
		"slot", o.sync.CurrentSlot(),
		"slotWait", slotWait,
		"acquireWait", time.Since(acquireStart),
		"acquire", status)

	switch status {
	case AcquireSuccess:
	case AcquireRetryLater:
		return 0, FrameSkipped
	case AcquireOutOfDate:
		o.resizeNeeded = true
		return 0, FrameOutOfDate
	case AcquireSurfaceLost:
		Logger().Warn("surface lost on acquire")
		o.resizeNeeded = true
		return 0, FrameSurfaceLost
	case AcquireDeviceLost:
		Logger().Error("device lost on acquire")
		o.resizeNeeded = true
		return 0, FrameDeviceLost
	default:
		Logger().Error("image acquire failed", "status", status)
		return 0, FrameAcquireFailed
	}

	if o.recorder != nil {
		if err := o.recorder.ResetFrame(o.sync.CurrentSlot()); err != nil {
			Logger().Error("frame pool reset failed",
				"slot", o.sync.CurrentSlot(), "error", err)
			return 0, FrameSubmitFailed
		}
	}

	return imageIndex, FrameSuccess
}

// Submit sends the frame's commands to the graphics queue. The
// submission waits on the slot's image-available signal at the
// color-attachment stage and signals the work-finished semaphore plus
// the frame timeline with the slot's next value.
func (o *Orchestrator) Submit(commands []CommandBuffer) FrameResult {
	value := o.sync.NextFrameSignalValue()
	err := o.device.GraphicsQueue().Submit(Submission{
		Commands:       commands,
		Wait:           o.sync.CurrentImageAvailable(),
		WaitStage:      StageColorAttachmentOutput,
		SignalBinary:   o.sync.CurrentWorkFinished(),
		SignalTimeline: o.sync.Timeline(),
		SignalValue:    value,
	})
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			Logger().Error("device lost during submit")
			o.resizeNeeded = true
			return FrameDeviceLost
		}
		Logger().Error("frame submit failed", "error", err)
		return FrameSubmitFailed
	}
	return FrameSuccess
}

// Present hands the image back to the presenter, advances the
// synchronizer, and polls the transfer engine. A suboptimal present
// marks resize-needed but the frame still counts as a success.
func (o *Orchestrator) Present(imageIndex uint32) FrameResult {
	status := o.presenter.Present(imageIndex, o.sync.CurrentWorkFinished())

	// The submission signed up to signal the slot's timeline value, so
	// the slot is consumed whatever the present outcome.
	o.sync.Advance()
	if o.transfers != nil {
		o.transfers.ProcessPending()
	}

	switch status {
	case PresentSuccess:
		return FrameSuccess
	case PresentSuboptimal:
		o.resizeNeeded = true
		return FrameSuccess
	case PresentOutOfDate:
		o.resizeNeeded = true
		return FrameOutOfDate
	case PresentSurfaceLost:
		Logger().Warn("surface lost during present")
		o.resizeNeeded = true
		return FrameSurfaceLost
	case PresentDeviceLost:
		Logger().Warn("device lost during present")
		o.resizeNeeded = true
		return FrameDeviceLost
	default:
		Logger().Error("present failed", "status", status)
		return FrameSubmitFailed
	}
}
