package graph

import (
	"github.com/dave-hillier/framecore"
	"github.com/dave-hillier/framecore/recording"
	"github.com/dave-hillier/framecore/sched"
)

// FrameBuilderConfig wires a compiled graph into an orchestrator
// frame. Pools is required; Scheduler enables parallel waves and
// secondary recording; Target resolves the acquired image index to
// the render target secondaries record against.
type FrameBuilderConfig struct {
	Scheduler *sched.Scheduler
	Pools     *recording.Matrix
	Target    func(imageIndex uint32) framecore.RenderTarget
}

// FrameBuilder returns the standard frame build callback: allocate the
// frame slot's primary command buffer, execute the graph into it, and
// hand the finished buffer back for submission. Any failure skips the
// frame rather than submitting a partial recording.
func (g *Graph) FrameBuilder(cfg FrameBuilderConfig) framecore.BuildFunc {
	return func(bc framecore.BuildContext) ([]framecore.CommandBuffer, bool) {
		primary := cfg.Pools.AllocatePrimary(bc.FrameIndex, 0)
		if primary == nil {
			framecore.Logger().Error("graph: no primary command buffer for frame", "frame", bc.FrameIndex)
			return nil, false
		}
		if err := primary.Begin(); err != nil {
			framecore.Logger().Error("graph: primary begin failed", "frame", bc.FrameIndex, "error", err)
			return nil, false
		}

		ctx := &ExecutionContext{
			CommandBuffer: primary,
			FrameIndex:    bc.FrameIndex,
			ImageIndex:    bc.ImageIndex,
			DeltaTime:     bc.DeltaTime,
			UserData:      bc.UserData,
			Pools:         cfg.Pools,
		}
		if cfg.Target != nil {
			ctx.Target = cfg.Target(bc.ImageIndex)
		}

		if err := g.Execute(ctx, cfg.Scheduler); err != nil {
			framecore.Logger().Error("graph: frame execution failed", "frame", bc.FrameIndex, "error", err)
			return nil, false
		}
		if err := primary.End(); err != nil {
			framecore.Logger().Error("graph: primary end failed", "frame", bc.FrameIndex, "error", err)
			return nil, false
		}
		return []framecore.CommandBuffer{primary}, true
	}
}
