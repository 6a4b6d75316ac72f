// Package latency provides per-category instruction timing for
// PunkVM's pipeline. Latency values are configurable via TimingConfig
// rather than hardwired into the opcode switch, the same separation of
// concerns the teacher's latency package makes for M2 timing.
package latency

import (
	"github.com/punkvm/punkvm/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with PunkVM's default timing
// values.
func NewTable() *Table {
	return &Table{config: DefaultTimingConfig()}
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{config: config}
}

// GetLatency returns the execution latency in cycles for the given
// instruction, not counting any cache-miss penalty (the Memory stage
// takes hit and miss latencies from the cache's own Config once it
// knows whether the access hit or missed).
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	switch inst.Op {
	case insts.OpADD, insts.OpADDI, insts.OpSUB, insts.OpSUBI,
		insts.OpINC, insts.OpDEC, insts.OpNEG, insts.OpCMP, insts.OpCMPI,
		insts.OpMOVI, insts.OpMOVR,
		insts.OpAND, insts.OpANDI, insts.OpOR, insts.OpORI,
		insts.OpXOR, insts.OpXORI, insts.OpNOT,
		insts.OpSHL, insts.OpSHLI, insts.OpSHR, insts.OpSHRI,
		insts.OpSAR, insts.OpSARI, insts.OpTEST, insts.OpTESTI,
		insts.OpLea:
		return t.config.ALULatency

	case insts.OpJMP, insts.OpJMPIfZero, insts.OpJMPIfNotZero,
		insts.OpJMPIfCarry, insts.OpJMPIfNotCarry, insts.OpJMPIfNeg,
		insts.OpJMPIfPos, insts.OpJMPIfOverflow, insts.OpJMPIfNotOverflow,
		insts.OpJMPGE, insts.OpJMPLT, insts.OpJMPGT, insts.OpJMPLE,
		insts.OpCALL, insts.OpRET, insts.OpJMPReg, insts.OpCALLReg:
		return t.config.BranchLatency

	case insts.OpLoad, insts.OpLoadB, insts.OpLoadH, insts.OpLoadW,
		insts.OpLoadAbs, insts.OpPop:
		return t.config.LoadLatency

	case insts.OpStore, insts.OpStoreB, insts.OpStoreH, insts.OpStoreW,
		insts.OpStoreAbs, insts.OpPush:
		return t.config.StoreLatency

	case insts.OpMUL, insts.OpMULI:
		return t.config.MultiplyLatency

	case insts.OpDIV, insts.OpDIVI, insts.OpMOD, insts.OpMODI:
		return t.config.DivideLatencyMax

	case insts.OpSyscall:
		return t.config.SyscallLatency

	default:
		return 1
	}
}

// GetMinLatency returns the minimum execution latency for
// variable-latency operations (currently only division).
func (t *Table) GetMinLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	switch inst.Op {
	case insts.OpDIV, insts.OpDIVI, insts.OpMOD, insts.OpMODI:
		return t.config.DivideLatencyMin
	default:
		return t.GetLatency(inst)
	}
}

// GetMaxLatency returns the maximum execution latency for
// variable-latency operations.
func (t *Table) GetMaxLatency(inst *insts.Instruction) uint64 {
	return t.GetLatency(inst)
}

// CacheMissLatency returns the configured L1 miss penalty. The
// pipeline's Memory stage does not use it; its miss timing comes from
// the cache's own Config.
func (t *Table) CacheMissLatency() uint64 {
	return t.config.CacheMissLatency
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.MemRead || inst.MemWrite
}

// IsLoadOp returns true if the instruction is a load operation.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	return inst != nil && inst.MemRead
}

// IsStoreOp returns true if the instruction is a store operation.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	return inst != nil && inst.MemWrite
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsBranch
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
