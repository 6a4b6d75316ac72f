package engine

import "github.com/punkvm/punkvm/timing/pipeline"

// Halted is Run's success-path result: the program stopped (whether by
// HALT, a clean syscall exit, or a TRAP) and the final metrics spec.md
// section 6 names are attached. A run that stops on a MemoryFault,
// ControlFault, DecodeError, or BudgetExhausted also returns that error
// from Run; the Halted returned with it carries the Reason and Metrics
// but no ExitCode.
type Halted struct {
	Reason   pipeline.HaltReason
	ExitCode int64
	Metrics  pipeline.Snapshot
}
