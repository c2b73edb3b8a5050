// Package graph provides the pass-dependency graph and its wave-based
// compilation and execution engine.
//
// Passes are declared with AddPass, wired with AddDependency, and
// compiled with Compile into an ordered sequence of waves (topological
// levels). Execute runs the waves in order against a live
// ExecutionContext, fanning independent waves across scheduler workers
// and, where a pass declares it, recording its work as parallel
// secondary command sequences.
package graph

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dave-hillier/framecore"
	"github.com/dave-hillier/framecore/sched"
)

// Graph errors.
var (
	// ErrNotCompiled is returned when executing a graph whose topology
	// changed since the last successful Compile.
	ErrNotCompiled = errors.New("graph: not compiled")

	// ErrCycleDetected is returned by Compile when the enabled passes
	// contain a dependency cycle.
	ErrCycleDetected = errors.New("graph: dependency cycle detected")
)

// PassID identifies a pass. Ids are stable for the graph's lifetime.
type PassID uint32

// InvalidPass is returned by Pass for unknown names.
const InvalidPass PassID = ^PassID(0)

// PassFunc is a pass's primary callable. It must be safe to call from
// any worker goroutine unless the pass is marked MainThreadOnly.
type PassFunc func(ctx *ExecutionContext)

// SecondaryRecordFunc records one parallel slice of a pass's work into
// the secondary buffer carried by its context copy. An error drops that
// slot's buffer; the pass still executes with the survivors.
type SecondaryRecordFunc func(ctx *ExecutionContext, slot int) error

// PassConfig declares one pass.
type PassConfig struct {
	Name string

	// Execute is the pass's primary callable. A pass with a nil Execute
	// is ignored by Compile.
	Execute PassFunc

	// SecondaryRecord, together with CanUseSecondary and
	// SecondarySlots, enables parallel secondary recording.
	SecondaryRecord SecondaryRecordFunc
	CanUseSecondary bool
	SecondarySlots  int

	// MainThreadOnly forces the pass's wave to run sequentially on the
	// calling goroutine.
	MainThreadOnly bool

	// Priority orders passes within a wave, higher first.
	Priority int32
}

type pass struct {
	id           PassID
	config       PassConfig
	enabled      bool
	dependencies []PassID
	dependents   []PassID
}

// Graph is a directed acyclic graph of named passes.
//
// Topology operations (AddPass, AddDependency, RemovePass, Clear,
// Compile) and Execute must all be called from the single
// frame-producing thread. Only the pass callables themselves run on
// workers.
type Graph struct {
	passes   []pass
	nameToID map[string]PassID
	waves    [][]PassID
	compiled bool
}

// New creates an empty pass graph.
func New() *Graph {
	return &Graph{nameToID: make(map[string]PassID)}
}

// AddPass appends a pass and returns its id. Any prior compilation is
// invalidated.
func (g *Graph) AddPass(config PassConfig) PassID {
	id := PassID(len(g.passes))
	g.passes = append(g.passes, pass{id: id, config: config, enabled: true})
	g.nameToID[config.Name] = id
	g.compiled = false
	return id
}

// AddPassFunc is AddPass for a plain main-thread pass with default
// priority.
func (g *Graph) AddPassFunc(name string, execute PassFunc) PassID {
	return g.AddPass(PassConfig{
		Name:           name,
		Execute:        execute,
		MainThreadOnly: true,
	})
}

// AddDependency records that pass to depends on pass from.
// Self-dependencies and out-of-range ids are logged and not inserted.
// Duplicate edges are ignored.
func (g *Graph) AddDependency(from, to PassID) {
	if int(from) >= len(g.passes) || int(to) >= len(g.passes) {
		framecore.Logger().Error("graph: invalid pass id in AddDependency",
			"from", from, "to", to, "passes", len(g.passes))
		return
	}
	if from == to {
		framecore.Logger().Error("graph: cannot add self-dependency", "pass", from)
		return
	}

	deps := &g.passes[to].dependencies
	if !slices.Contains(*deps, from) {
		*deps = append(*deps, from)
	}
	dependents := &g.passes[from].dependents
	if !slices.Contains(*dependents, to) {
		*dependents = append(*dependents, to)
	}

	g.compiled = false
}

// RemovePass detaches a pass: its name mapping and edges are removed
// and its callables cleared, but its id slot is preserved so other ids
// stay stable.
func (g *Graph) RemovePass(id PassID) {
	if int(id) >= len(g.passes) {
		return
	}

	delete(g.nameToID, g.passes[id].config.Name)

	for i := range g.passes {
		g.passes[i].dependencies = slices.DeleteFunc(g.passes[i].dependencies,
			func(d PassID) bool { return d == id })
		g.passes[i].dependents = slices.DeleteFunc(g.passes[i].dependents,
			func(d PassID) bool { return d == id })
	}

	g.passes[id].config = PassConfig{}
	g.passes[id].enabled = false
	g.compiled = false
}

// SetPassEnabled toggles a pass. Note that enabling or disabling a pass
// changes the active topology; Compile must be called again before
// Execute.
func (g *Graph) SetPassEnabled(id PassID, enabled bool) {
	if int(id) < len(g.passes) && g.passes[id].enabled != enabled {
		g.passes[id].enabled = enabled
		g.compiled = false
	}
}

// IsPassEnabled reports whether a pass is enabled.
func (g *Graph) IsPassEnabled(id PassID) bool {
	return int(id) < len(g.passes) && g.passes[id].enabled
}

// Pass returns the id of the named pass, or InvalidPass.
func (g *Graph) Pass(name string) PassID {
	if id, ok := g.nameToID[name]; ok {
		return id
	}
	return InvalidPass
}

// PassCount returns the number of pass slots, including removed ones.
func (g *Graph) PassCount() int { return len(g.passes) }

// WaveCount returns the number of waves in the compiled schedule, or 0
// if the graph is not compiled.
func (g *Graph) WaveCount() int {
	if !g.compiled {
		return 0
	}
	return len(g.waves)
}

// IsCompiled reports whether the current topology has been compiled.
func (g *Graph) IsCompiled() bool { return g.compiled }

// active reports whether a pass participates in compilation: enabled
// with a non-nil Execute callable.
func (g *Graph) active(id PassID) bool {
	return g.passes[id].enabled && g.passes[id].config.Execute != nil
}

// topologicalSort runs Kahn's algorithm restricted to active passes,
// producing waves of passes with no remaining unmet dependencies,
// each sorted by descending priority. Returns false on a cycle.
func (g *Graph) topologicalSort() ([][]PassID, bool) {
	inDegree := make([]int, len(g.passes))
	activeCount := 0
	for i := range g.passes {
		id := PassID(i)
		if !g.active(id) {
			continue
		}
		activeCount++
		for _, dep := range g.passes[i].dependencies {
			if g.active(dep) {
				inDegree[i]++
			}
		}
	}

	ready := make([]PassID, 0, activeCount)
	for i := range g.passes {
		id := PassID(i)
		if g.active(id) && inDegree[i] == 0 {
			ready = append(ready, id)
		}
	}

	var waves [][]PassID
	processed := 0
	for len(ready) > 0 {
		wave := ready
		ready = nil

		for _, id := range wave {
			processed++
			for _, dep := range g.passes[id].dependents {
				if !g.active(dep) {
					continue
				}
				inDegree[dep]--
				if inDegree[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		}

		// Stable sort keeps equal-priority order deterministic for
		// logging; passes must still not rely on it.
		slices.SortStableFunc(wave, func(a, b PassID) int {
			return cmp.Compare(g.passes[b].config.Priority, g.passes[a].config.Priority)
		})
		waves = append(waves, wave)
	}

	if processed != activeCount {
		framecore.Logger().Error("graph: cycle detected",
			"processed", processed, "active", activeCount)
		return nil, false
	}
	return waves, true
}

// Compile rebuilds the wave schedule for the current topology. On
// failure the graph is left uncompiled; a previously compiled schedule
// is kept unchanged and becomes valid again only after a successful
// recompile.
func (g *Graph) Compile() error {
	waves, ok := g.topologicalSort()
	if !ok {
		g.compiled = false
		return ErrCycleDetected
	}
	g.waves = waves
	g.compiled = true

	log := framecore.Logger()
	log.Info("graph: compiled", "waves", len(g.waves))
	for i, wave := range g.waves {
		names := make([]string, len(wave))
		for j, id := range wave {
			names[j] = g.passes[id].config.Name
		}
		log.Info("graph: wave", "index", i, "passes", strings.Join(names, ", "))
	}
	return nil
}

// Execute runs the compiled schedule against ctx. Waves execute
// strictly in order; a wave with more than one pass, none of them
// MainThreadOnly, fans out across scheduler workers and joins before
// the next wave.
func (g *Graph) Execute(ctx *ExecutionContext, scheduler *sched.Scheduler) error {
	if !g.compiled {
		framecore.Logger().Error("graph: cannot execute, not compiled")
		return ErrNotCompiled
	}

	for _, wave := range g.waves {
		if len(wave) == 0 {
			continue
		}

		parallel := scheduler != nil && len(wave) > 1
		if parallel {
			for _, id := range wave {
				if g.passes[id].config.MainThreadOnly {
					parallel = false
					break
				}
			}
		}

		if parallel {
			var group sched.Group
			for _, id := range wave {
				if !g.passes[id].enabled {
					continue
				}
				execute := g.passes[id].config.Execute
				scheduler.Submit(func() { execute(ctx) }, &group, sched.PriorityNormal)
			}
			group.Wait()
			continue
		}

		for _, id := range wave {
			p := &g.passes[id]
			if !p.enabled {
				continue
			}
			if p.config.Execute == nil {
				framecore.Logger().Warn("graph: skipping pass with nil execute",
					"pass", p.config.Name)
				continue
			}

			if p.config.CanUseSecondary &&
				p.config.SecondarySlots > 0 &&
				p.config.SecondaryRecord != nil &&
				ctx.Pools != nil &&
				scheduler != nil {
				g.executeWithSecondaryBuffers(ctx, p, scheduler)
			} else {
				p.config.Execute(ctx)
			}
		}
	}
	return nil
}

// executeWithSecondaryBuffers records a pass's work as SecondarySlots
// parallel secondary command sequences, then calls the pass's Execute
// with the surviving list attached to the context. The pass's own
// Execute begins/ends its target scope and replays the list. Any
// failure degrades to executing with whatever buffers succeeded.
func (g *Graph) executeWithSecondaryBuffers(ctx *ExecutionContext, p *pass, scheduler *sched.Scheduler) {
	config := &p.config

	if ctx.Target == nil {
		framecore.Logger().Error("graph: missing render target for secondary recording",
			"pass", config.Name)
		config.Execute(ctx)
		return
	}

	slots := config.SecondarySlots
	secondaries := make([]framecore.CommandBuffer, slots)
	var failures atomic.Uint32

	var group sched.Group
	for slot := 0; slot < slots; slot++ {
		scheduler.SubmitIndexed(func(workerID int) {
			cb := ctx.Pools.AllocateSecondary(ctx.FrameIndex, workerID)
			if cb == nil {
				framecore.Logger().Error("graph: secondary buffer allocation failed",
					"pass", config.Name, "slot", slot, "worker", workerID)
				failures.Add(1)
				return
			}
			if err := cb.BeginSecondary(ctx.Target); err != nil {
				framecore.Logger().Error("graph: begin secondary failed",
					"pass", config.Name, "slot", slot, "error", err)
				failures.Add(1)
				return
			}

			slotCtx := *ctx
			slotCtx.CommandBuffer = cb
			slotCtx.SecondaryBuffers = nil

			if err := config.SecondaryRecord(&slotCtx, slot); err != nil {
				framecore.Logger().Error("graph: secondary recording failed",
					"pass", config.Name, "slot", slot, "error", err)
				failures.Add(1)
				return
			}
			if err := cb.End(); err != nil {
				framecore.Logger().Error("graph: end secondary failed",
					"pass", config.Name, "slot", slot, "error", err)
				failures.Add(1)
				return
			}
			secondaries[slot] = cb
		}, &group, sched.PriorityNormal)
	}
	group.Wait()

	if n := failures.Load(); n > 0 {
		framecore.Logger().Warn("graph: secondary buffer slots failed",
			"pass", config.Name, "failed", n, "slots", slots)
	}
	survivors := secondaries[:0]
	for _, cb := range secondaries {
		if cb != nil {
			survivors = append(survivors, cb)
		}
	}

	ctx.SecondaryBuffers = survivors
	config.Execute(ctx)
	ctx.SecondaryBuffers = nil
}

// Clear drops all passes and the compiled schedule. Used when the pass
// topology is rebuilt, e.g. on a feature toggle.
func (g *Graph) Clear() {
	g.passes = nil
	g.nameToID = make(map[string]PassID)
	g.waves = nil
	g.compiled = false
}

// DebugString returns a human-readable dump of passes, dependencies,
// and compiled wave membership. Startup diagnostics only; not a stable
// format.
func (g *Graph) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PassGraph (%d passes):\n", len(g.passes))

	for i := range g.passes {
		p := &g.passes[i]
		if p.config.Execute == nil {
			continue
		}
		fmt.Fprintf(&b, "  %s", p.config.Name)
		if !p.enabled {
			b.WriteString(" [DISABLED]")
		}
		fmt.Fprintf(&b, " (id=%d)", p.id)
		if len(p.dependencies) > 0 {
			b.WriteString(" <- [")
			for j, dep := range p.dependencies {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(g.passes[dep].config.Name)
			}
			b.WriteString("]")
		}
		b.WriteString("\n")
	}

	if g.compiled {
		fmt.Fprintf(&b, "\nExecution order (%d waves):\n", len(g.waves))
		for i, wave := range g.waves {
			fmt.Fprintf(&b, "  Wave %d: ", i)
			for j, id := range wave {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(g.passes[id].config.Name)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
