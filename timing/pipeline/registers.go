// Package pipeline implements the five-stage in-order pipeline that
// drives a PunkVM program: Fetch, Decode, Execute, Memory, Writeback,
// connected by the FD, DE, EM, and MW latches.
package pipeline

import (
	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/insts"
)

// FDRegister holds state between Fetch and Decode: the decoded
// instruction, the PC it was fetched from, and the speculative
// prediction Fetch made for it.
type FDRegister struct {
	// Valid is false for a bubble: a cycle with no in-flight instruction.
	Valid bool

	PC   uint64
	Inst *insts.Instruction

	// SpecTag identifies the speculation epoch this instruction was
	// fetched under; a flush bumps the controller's epoch counter so any
	// stale latch holding an older tag is recognizable as invalid even
	// if some code forgets to call Clear.
	SpecTag uint64

	// PredictedTaken/PredictedNextPC is the branch predictor's guess for
	// this instruction, carried along so Execute can compare it to the
	// resolved outcome.
	PredictedTaken  bool
	PredictedNextPC uint64

	// RASCheckpoint is the return-address-stack checkpoint Fetch captured
	// for this instruction (see FetchBufferEntry.RASCheckpoint).
	RASCheckpoint []uint64
}

// Clear resets the FD register to a bubble.
func (r *FDRegister) Clear() {
	*r = FDRegister{}
}

// DERegister holds state between Decode and Execute: the decoded
// instruction, its resolved (pre-forwarding) operand values, and the
// control signals later stages consume.
type DERegister struct {
	Valid bool

	PC      uint64
	Inst    *insts.Instruction
	SpecTag uint64

	RnValue uint64
	RmValue uint64

	Rd uint8
	Rn uint8
	Rm uint8

	RegWrite  bool
	MemRead   bool
	MemWrite  bool
	SetFlags  bool
	IsBranch  bool
	IsCall    bool
	IsReturn  bool
	IsSyscall bool
	IsHalt    bool

	PredictedTaken  bool
	PredictedNextPC uint64

	// RASCheckpoint carries FDRegister.RASCheckpoint forward so Execute
	// can restore the RAS to it on a misprediction.
	RASCheckpoint []uint64
}

// Clear resets the DE register to a bubble.
func (r *DERegister) Clear() {
	*r = DERegister{}
}

// EMRegister holds state between Execute and Memory: the ALU result (or
// computed effective address), the value to store, and the flags this
// instruction produced.
type EMRegister struct {
	Valid bool

	PC      uint64
	Inst    *insts.Instruction
	SpecTag uint64

	ALUResult  uint64
	MemAddr    uint64
	StoreValue uint64
	Flags      emu.Flags

	Rd uint8

	RegWrite bool
	MemRead  bool
	MemWrite bool
	SetFlags bool
	MemToReg bool
	IsHalt   bool

	// IsSyscallExit/SyscallExitCode/IsTrap are resolved side effects of an
	// already-executed Syscall or Trap instruction, carried forward so
	// the architectural stop only takes effect once Writeback commits
	// them, same as every other instruction (spec.md section 4.1).
	IsSyscallExit   bool
	SyscallExitCode int64
	IsTrap          bool

	// RASCheckpoint carries DERegister.RASCheckpoint forward; the
	// controller restores the RAS to it when this instruction turns out
	// to have been mispredicted (see Pipeline.Tick's Mispredicted case).
	RASCheckpoint []uint64
}

// Clear resets the EM register to a bubble.
func (r *EMRegister) Clear() {
	*r = EMRegister{}
}

// MWRegister holds state between Memory and Writeback: the committed
// value and control signals Writeback needs to update the register
// file and flags.
type MWRegister struct {
	Valid bool

	PC      uint64
	Inst    *insts.Instruction
	SpecTag uint64

	ALUResult uint64
	MemData   uint64
	Flags     emu.Flags

	Rd uint8

	RegWrite bool
	MemToReg bool
	SetFlags bool
	IsHalt   bool

	IsSyscallExit   bool
	SyscallExitCode int64
	IsTrap          bool
}

// Clear resets the MW register to a bubble.
func (r *MWRegister) Clear() {
	*r = MWRegister{}
}
