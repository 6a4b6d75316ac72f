// Package core provides the cycle-accurate CPU core model. It wraps
// the pipeline implementation to provide a high-level interface.
package core

import (
	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/timing/pipeline"
)

// Stats holds performance statistics for the core, a thin reshaping of
// pipeline.Snapshot for callers that don't want the full metrics
// breakdown.
type Stats struct {
	Cycles       uint64
	Instructions uint64
	Stalls       uint64
	IPC          float64
}

// Core represents a cycle-accurate CPU core model. It wraps a 5-stage
// pipeline and provides a simple interface for simulation.
type Core struct {
	// Pipeline is the underlying 5-stage pipeline.
	Pipeline *pipeline.Pipeline

	regFile *emu.RegFile
	memory  *emu.Memory
}

// NewCore creates a new Core with the given register file and memory.
func NewCore(regFile *emu.RegFile, memory *emu.Memory, opts ...pipeline.PipelineOption) *Core {
	return &Core{
		Pipeline: pipeline.NewPipeline(regFile, memory, opts...),
		regFile:  regFile,
		memory:   memory,
	}
}

// SetPC sets the program counter.
func (c *Core) SetPC(pc uint64) {
	c.Pipeline.SetPC(pc)
}

// Tick executes one pipeline cycle.
func (c *Core) Tick() {
	c.Pipeline.Tick()
}

// Halted returns true if the core has halted.
func (c *Core) Halted() bool {
	return c.Pipeline.Halted()
}

// HaltReason reports why the core stopped.
func (c *Core) HaltReason() pipeline.HaltReason {
	return c.Pipeline.HaltReason()
}

// HaltErr returns the error that stopped the core, or nil on a clean
// exit.
func (c *Core) HaltErr() error {
	return c.Pipeline.HaltErr()
}

// ExitCode returns the exit code if the core has halted.
func (c *Core) ExitCode() int64 {
	return c.Pipeline.ExitCode()
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	snap := c.Pipeline.Stats()
	return Stats{
		Cycles:       snap.Cycles,
		Instructions: snap.InstructionsCommitted,
		Stalls:       snap.StallsData + snap.StallsLoadUse + snap.StallsStructural + snap.StallsBranch,
		IPC:          snap.IPC,
	}
}

// Snapshot returns the full metrics snapshot spec.md section 6 names
// as the engine's halt-time output.
func (c *Core) Snapshot() pipeline.Snapshot {
	return c.Pipeline.Stats()
}

// Run executes the core until it halts or maxCycles elapses (0 means
// unbounded). Returns the exit code.
func (c *Core) Run(maxCycles uint64) int64 {
	return c.Pipeline.Run(maxCycles)
}

// RunCycles executes the core for the specified number of cycles.
// Returns true if still running, false if halted.
func (c *Core) RunCycles(cycles uint64) bool {
	return c.Pipeline.RunCycles(cycles)
}

// Reset clears all core state.
func (c *Core) Reset() {
	c.Pipeline.Reset()
}
