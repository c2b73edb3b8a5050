package framecore

import "fmt"

// FrameResult is the closed set of outcomes from one frame of the
// orchestrator. Device-loss and surface-loss set the resize-needed flag
// for the recovery layer above; they never terminate the process.
type FrameResult int

const (
	// FrameSuccess means the frame was submitted and presented.
	FrameSuccess FrameResult = iota

	// FrameSkipped means the frame was silently dropped (window
	// suspended or minimized, acquire timed out, or the builder bailed
	// out). Not an error: try again next frame.
	FrameSkipped

	// FrameOutOfDate means the presentation target must be recreated
	// before the next frame.
	FrameOutOfDate

	// FrameSurfaceLost means the surface was lost; recreate and retry.
	FrameSurfaceLost

	// FrameDeviceLost means the device was lost; full recovery needed.
	FrameDeviceLost

	// FrameAcquireFailed means acquisition failed for a reason outside
	// the recoverable set.
	FrameAcquireFailed

	// FrameSubmitFailed means queue submission or presentation failed.
	FrameSubmitFailed
)

// String returns the string representation of FrameResult.
func (r FrameResult) String() string {
	switch r {
	case FrameSuccess:
		return "Success"
	case FrameSkipped:
		return "Skipped"
	case FrameOutOfDate:
		return "OutOfDate"
	case FrameSurfaceLost:
		return "SurfaceLost"
	case FrameDeviceLost:
		return "DeviceLost"
	case FrameAcquireFailed:
		return "AcquireFailed"
	case FrameSubmitFailed:
		return "SubmitFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// String returns the string representation of AcquireStatus.
func (s AcquireStatus) String() string {
	switch s {
	case AcquireSuccess:
		return "Success"
	case AcquireRetryLater:
		return "RetryLater"
	case AcquireOutOfDate:
		return "OutOfDate"
	case AcquireSurfaceLost:
		return "SurfaceLost"
	case AcquireDeviceLost:
		return "DeviceLost"
	case AcquireFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// String returns the string representation of PresentStatus.
func (s PresentStatus) String() string {
	switch s {
	case PresentSuccess:
		return "Success"
	case PresentSuboptimal:
		return "Suboptimal"
	case PresentOutOfDate:
		return "OutOfDate"
	case PresentSurfaceLost:
		return "SurfaceLost"
	case PresentDeviceLost:
		return "DeviceLost"
	case PresentFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
