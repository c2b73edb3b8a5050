package graph

import (
	"github.com/dave-hillier/framecore"
	"github.com/dave-hillier/framecore/recording"
)

// ExecutionContext is the per-invocation value handed to every pass.
// It is stack-allocated per wave/pass invocation; passes must not
// retain it beyond their own invocation.
type ExecutionContext struct {
	// CommandBuffer is the target command-recording handle. For a pass
	// on the secondary-recording path, each record callback receives a
	// copy of the context with this replaced by its own secondary
	// buffer.
	CommandBuffer framecore.CommandBuffer

	// FrameIndex is the frame-slot index for this frame.
	FrameIndex int

	// ImageIndex is the acquired presentation-target image index.
	ImageIndex uint32

	// DeltaTime is the elapsed time since the previous frame, seconds.
	DeltaTime float64

	// UserData is an opaque pointer for the host renderer.
	UserData any

	// Pools and Target are needed only when secondary recording is
	// used: Pools supplies per-thread secondary buffers and Target is
	// the render destination they inherit.
	Pools  *recording.Matrix
	Target framecore.RenderTarget

	// SecondaryBuffers is the output slot for the list of successfully
	// recorded secondary sequences. It is populated only while the
	// owning pass's Execute callback runs; the pass is responsible for
	// beginning/ending its target scope and replaying the list via
	// CommandBuffer.ExecuteCommands.
	SecondaryBuffers []framecore.CommandBuffer
}
