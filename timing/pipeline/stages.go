package pipeline

import (
	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/insts"
	"github.com/punkvm/punkvm/timing/cache"
	"github.com/punkvm/punkvm/timing/latency"
	"github.com/punkvm/punkvm/timing/storebuffer"
)

// maxFetchWindow bounds how many raw bytes Fetch hands the decoder. No
// PunkVM instruction comes close to this; it only needs to cover the
// worst case (a header plus a Rd byte plus a 64-bit immediate) with
// room to spare.
const maxFetchWindow = 32

// FetchStage turns a PC into a decoded instruction and a branch
// prediction for it, mirroring the teacher's FetchStage but driven by
// the variable-length PunkVM decoder instead of a fixed-width one.
type FetchStage struct {
	memory    *emu.Memory
	decoder   *insts.Decoder
	predictor *BranchPredictor
}

// NewFetchStage creates a Fetch stage.
func NewFetchStage(memory *emu.Memory, decoder *insts.Decoder, predictor *BranchPredictor) *FetchStage {
	return &FetchStage{memory: memory, decoder: decoder, predictor: predictor}
}

// Step decodes the instruction at pc and predicts where to fetch next.
// A code-range violation or decode failure is returned as-is; the
// controller classifies it (ControlFault vs DecodeError).
func (s *FetchStage) Step(pc uint64) (FetchBufferEntry, error) {
	if err := s.memory.CheckCodeRange(pc, 3); err != nil {
		return FetchBufferEntry{}, err
	}
	window := s.memory.FetchWord(pc, maxFetchWindow)
	inst, err := s.decoder.Decode(window, pc)
	if err != nil {
		return FetchBufferEntry{}, err
	}
	if err := s.memory.CheckCodeRange(pc, inst.EncodedLen); err != nil {
		return FetchBufferEntry{}, err
	}
	fallthroughPC := pc + uint64(inst.EncodedLen)
	pred := s.predictor.PredictFetch(inst, pc, fallthroughPC)
	return FetchBufferEntry{
		Inst:            inst,
		PC:              pc,
		PredictedTaken:  pred.Taken,
		PredictedNextPC: pred.NextPC,
		RASCheckpoint:   s.predictor.RAS().Snapshot(),
	}, nil
}

// DecodeStage reads the register file for an instruction's source
// operands and checks for the one hazard forwarding cannot fix:
// load-use.
type DecodeStage struct {
	regFile *emu.RegFile
	hazard  *HazardUnit
}

// NewDecodeStage creates a Decode stage.
func NewDecodeStage(regFile *emu.RegFile, hazard *HazardUnit) *DecodeStage {
	return &DecodeStage{regFile: regFile, hazard: hazard}
}

// Decode produces the DE latch contents for the instruction sitting in
// fd, or reports a load-use hazard against the instruction currently in
// de (about to enter Execute this same cycle). On a hazard it returns a
// bubble and true; the controller holds fd for a retry next cycle.
func (s *DecodeStage) Decode(fd *FDRegister, de *DERegister) (DERegister, bool) {
	if !fd.Valid {
		return DERegister{}, false
	}
	inst := fd.Inst

	usesRn := inst.UsesRn()
	usesRm := inst.UsesRm()
	hazard := s.hazard.DetectLoadUseHazard(de, inst.Rn, inst.Rm, usesRn, usesRm)
	if inst.Op == insts.OpPush || inst.Op == insts.OpPop {
		// PUSH/POP read the stack pointer implicitly; they carry
		// no Rn/Rm slot of their own, so the generic check above can't
		// see this dependency.
		hazard = hazard || s.hazard.DetectLoadUseHazard(de, insts.StackReg, insts.StackReg, true, true)
	}
	if hazard {
		return DERegister{}, true
	}

	return DERegister{
		Valid:   true,
		PC:      fd.PC,
		Inst:    inst,
		SpecTag: fd.SpecTag,

		RASCheckpoint: fd.RASCheckpoint,

		RnValue: s.regFile.ReadReg(inst.Rn),
		RmValue: s.regFile.ReadReg(inst.Rm),

		Rd: inst.Rd,
		Rn: inst.Rn,
		Rm: inst.Rm,

		RegWrite:  inst.RegWrite,
		MemRead:   inst.MemRead,
		MemWrite:  inst.MemWrite,
		SetFlags:  inst.SetFlags,
		IsBranch:  inst.IsBranch,
		IsCall:    inst.IsCall,
		IsReturn:  inst.IsReturn,
		IsSyscall: inst.IsSyscall,
		IsHalt:    inst.Op == insts.OpHalt,

		PredictedTaken:  fd.PredictedTaken,
		PredictedNextPC: fd.PredictedNextPC,
	}, false
}

// ExecuteStage runs the ALU, resolves branches, computes effective
// addresses, and performs SYSCALL's register-file side effects. Per
// spec.md section 4.4 the ALU itself stays pure; ExecuteStage is what
// decides what to do with its result.
type ExecuteStage struct {
	regFile        *emu.RegFile
	alu            *emu.ALU
	forwarding     *ForwardingUnit
	predictor      *BranchPredictor
	syscallHandler emu.SyscallHandler
	memory         *emu.Memory
	latencyTable   *latency.Table

	// busyPC/busyRemaining model a multi-cycle functional unit (MUL/DIV
	// in practice; every other category's default latency is 1 and
	// never engages this path): the instruction stays in DE, re-offered
	// to Execute each cycle, until the configured latency elapses.
	// Memory ops are excluded — their timing is the cache's concern.
	busy          bool
	busyPC        uint64
	busyRemaining uint64
}

// NewExecuteStage creates an Execute stage.
func NewExecuteStage(regFile *emu.RegFile, alu *emu.ALU, forwarding *ForwardingUnit, predictor *BranchPredictor, syscallHandler emu.SyscallHandler, memory *emu.Memory, latencyTable *latency.Table) *ExecuteStage {
	return &ExecuteStage{
		regFile:        regFile,
		alu:            alu,
		forwarding:     forwarding,
		predictor:      predictor,
		syscallHandler: syscallHandler,
		memory:         memory,
		latencyTable:   latencyTable,
	}
}

// Reset clears the Execute stage's in-flight multi-cycle state.
func (s *ExecuteStage) Reset() {
	s.busy = false
	s.busyRemaining = 0
}

// ExecuteOutcome is everything the controller needs from one Execute
// cycle: the new EM latch, and — only when de holds a branch — whether
// it was mispredicted and where to redirect Fetch.
type ExecuteOutcome struct {
	EM EMRegister

	ForwardedRn bool
	ForwardedRm bool

	BranchResolved bool
	BranchCorrect  bool
	Mispredicted   bool
	RedirectPC     uint64

	// Stall is true while a multi-cycle functional unit (MUL/DIV) is
	// still working, or while a SYSCALL waits for a register write in EM
	// to commit; the controller must hold DE/FD/PC and feed EM a
	// bubble until Stall goes false.
	Stall bool

	Err error
}

// Execute evaluates the instruction in de against the EM/MW latches
// (for forwarding) and the architectural register file and flags (the
// fallback when nothing is in flight to forward from).
func (s *ExecuteStage) Execute(de *DERegister, em *EMRegister, mw *MWRegister) ExecuteOutcome {
	if !de.Valid {
		s.Reset()
		return ExecuteOutcome{}
	}
	inst := de.Inst

	if !inst.MemRead && !inst.MemWrite {
		total := s.latencyTable.GetLatency(inst)
		if total > 1 {
			if s.busy && s.busyPC == de.PC {
				s.busyRemaining--
				if s.busyRemaining > 0 {
					return ExecuteOutcome{Stall: true}
				}
				s.busy = false
				// Final cycle: fall through and actually compute below.
				// Decode read the operands cycles ago; producers that have
				// committed since are no longer in EM/MW to forward from,
				// so re-read them from the register file.
				de.RnValue = s.regFile.ReadReg(de.Rn)
				de.RmValue = s.regFile.ReadReg(de.Rm)
			} else {
				if s.busy {
					s.Reset()
				}
				s.busy = true
				s.busyPC = de.PC
				s.busyRemaining = total - 1
				return ExecuteOutcome{Stall: true}
			}
		}
	}

	if inst.IsSyscall && em.Valid && em.RegWrite {
		// The syscall handler reads the register file directly, so an
		// older register write still in EM has to commit first.
		return ExecuteOutcome{Stall: true}
	}

	fwd := s.forwarding.Resolve(de, em, mw)
	rnVal := s.forwarding.Value(fwd.Rn, de.RnValue, em, mw)
	rmVal := s.forwarding.Value(fwd.Rm, de.RmValue, em, mw)
	flags := s.forwarding.ResolveFlags(s.regFile.Flags, em, mw)

	var spVal uint64
	var spForwarded bool
	if inst.Op == insts.OpPush || inst.Op == insts.OpPop {
		spSrc := s.forwarding.ResolveRegister(insts.StackReg, em, mw)
		spVal = s.forwarding.Value(spSrc, s.regFile.ReadReg(insts.StackReg), em, mw)
		spForwarded = spSrc != ForwardNone
	}

	result := EMRegister{
		Valid:    true,
		PC:       de.PC,
		Inst:     inst,
		SpecTag:  de.SpecTag,
		Rd:       de.Rd,
		RegWrite: de.RegWrite,
		MemRead:  de.MemRead,
		MemWrite: de.MemWrite,
		SetFlags: de.SetFlags,
		IsHalt:   de.IsHalt,

		RASCheckpoint: de.RASCheckpoint,
	}

	applyALU := func(op emu.AluOp, a, b uint64) {
		r := s.alu.Execute(op, a, b)
		result.ALUResult = r.Result
		result.Flags = r.Flags
	}

	fallthroughPC := de.PC + uint64(inst.EncodedLen)
	actualTaken := false
	actualTarget := fallthroughPC

	switch inst.Op {
	case insts.OpADD:
		applyALU(emu.AluAdd, rnVal, rmVal)
	case insts.OpADDI:
		applyALU(emu.AluAdd, rnVal, inst.Imm)
	case insts.OpSUB:
		applyALU(emu.AluSub, rnVal, rmVal)
	case insts.OpSUBI:
		applyALU(emu.AluSub, rnVal, inst.Imm)
	case insts.OpMUL:
		applyALU(emu.AluMul, rnVal, rmVal)
	case insts.OpMULI:
		applyALU(emu.AluMul, rnVal, inst.Imm)
	case insts.OpDIV:
		applyALU(emu.AluDiv, rnVal, rmVal)
	case insts.OpDIVI:
		applyALU(emu.AluDiv, rnVal, inst.Imm)
	case insts.OpMOD:
		applyALU(emu.AluMod, rnVal, rmVal)
	case insts.OpMODI:
		applyALU(emu.AluMod, rnVal, inst.Imm)
	case insts.OpINC:
		applyALU(emu.AluAdd, rnVal, 1)
	case insts.OpDEC:
		applyALU(emu.AluSub, rnVal, 1)
	case insts.OpNEG:
		applyALU(emu.AluSub, 0, rnVal)
	case insts.OpCMP:
		applyALU(emu.AluCmp, rnVal, rmVal)
	case insts.OpCMPI:
		applyALU(emu.AluCmp, rnVal, inst.Imm)
	case insts.OpMOVI:
		result.ALUResult = inst.Imm
	case insts.OpMOVR:
		result.ALUResult = rnVal

	case insts.OpAND:
		applyALU(emu.AluAnd, rnVal, rmVal)
	case insts.OpANDI:
		applyALU(emu.AluAnd, rnVal, inst.Imm)
	case insts.OpOR:
		applyALU(emu.AluOr, rnVal, rmVal)
	case insts.OpORI:
		applyALU(emu.AluOr, rnVal, inst.Imm)
	case insts.OpXOR:
		applyALU(emu.AluXor, rnVal, rmVal)
	case insts.OpXORI:
		applyALU(emu.AluXor, rnVal, inst.Imm)
	case insts.OpNOT:
		applyALU(emu.AluNot, rnVal, 0)
	case insts.OpSHL:
		applyALU(emu.AluShl, rnVal, rmVal)
	case insts.OpSHLI:
		applyALU(emu.AluShl, rnVal, inst.Imm)
	case insts.OpSHR:
		applyALU(emu.AluShr, rnVal, rmVal)
	case insts.OpSHRI:
		applyALU(emu.AluShr, rnVal, inst.Imm)
	case insts.OpSAR:
		applyALU(emu.AluSar, rnVal, rmVal)
	case insts.OpSARI:
		applyALU(emu.AluSar, rnVal, inst.Imm)
	case insts.OpTEST:
		applyALU(emu.AluAnd, rnVal, rmVal)
	case insts.OpTESTI:
		applyALU(emu.AluAnd, rnVal, inst.Imm)

	case insts.OpJMP:
		actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
	case insts.OpJMPIfZero:
		if rnVal == 0 {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfNotZero:
		if rnVal != 0 {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfCarry:
		if flags.C {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfNotCarry:
		if !flags.C {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfNeg:
		if flags.N {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfPos:
		if !flags.N {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfOverflow:
		if flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPIfNotOverflow:
		if !flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPGE: // signed >=: N == V
		if flags.N == flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPLT: // signed <: N != V
		if flags.N != flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPGT: // signed >: !Z && N == V
		if !flags.Z && flags.N == flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpJMPLE: // signed <=: Z || N != V
		if flags.Z || flags.N != flags.V {
			actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		}
	case insts.OpCALL:
		actualTaken, actualTarget = true, uint64(int64(de.PC)+inst.Offset)
		result.ALUResult = fallthroughPC
	case insts.OpRET:
		actualTaken, actualTarget = true, rnVal
	case insts.OpJMPReg:
		actualTaken, actualTarget = true, rnVal
	case insts.OpCALLReg:
		actualTaken, actualTarget = true, rnVal
		result.ALUResult = fallthroughPC

	case insts.OpLoad, insts.OpLoadB, insts.OpLoadH, insts.OpLoadW:
		result.MemAddr = uint64(int64(rnVal) + inst.Offset)
		result.MemToReg = true
	case insts.OpStore, insts.OpStoreB, insts.OpStoreH, insts.OpStoreW:
		result.MemAddr = uint64(int64(rnVal) + inst.Offset)
		result.StoreValue = rmVal
	case insts.OpLoadAbs:
		result.MemAddr = inst.Imm
		result.MemToReg = true
	case insts.OpStoreAbs:
		result.MemAddr = inst.Imm
		result.StoreValue = rmVal
	case insts.OpPush:
		// No auto-decrement: software manages the stack pointer via
		// ADDI/SUBI on R15. PUSH/POP only use it as a base address.
		result.MemAddr = spVal
		result.StoreValue = rnVal
	case insts.OpPop:
		result.MemAddr = spVal
		result.MemToReg = true
	case insts.OpLea:
		result.ALUResult = uint64(int64(rnVal) + inst.Offset)

	case insts.OpNop, insts.OpFence, insts.OpHalt:
		// No computation; IsHalt/Fence handling is carried on the latch
		// itself and the Memory/Writeback stages respectively.
	case insts.OpSyscall:
		sr := s.syscallHandler.Handle()
		if sr.Exited {
			result.IsSyscallExit = true
			result.SyscallExitCode = sr.ExitCode
		}
	case insts.OpTrap:
		result.IsTrap = true
	}

	out := ExecuteOutcome{
		EM:          result,
		ForwardedRn: fwd.Rn != ForwardNone || spForwarded,
		ForwardedRm: fwd.Rm != ForwardNone,
	}

	if inst.IsBranch {
		if actualTaken {
			if err := s.memory.CheckCodeRange(actualTarget, 1); err != nil {
				out.Err = err
				out.RedirectPC = actualTarget
				return out
			}
		}
		out.BranchResolved = true
		out.BranchCorrect = de.PredictedTaken == actualTaken
		out.Mispredicted = de.PredictedNextPC != actualTarget
		out.RedirectPC = actualTarget
		s.predictor.UpdateExecute(de.PC, de.PredictedTaken, actualTaken, actualTarget)
	}

	return out
}

// MemoryStage performs the load/store half of an instruction: queries
// the store buffer for store-to-load forwarding, falls through to the
// cache, and models a multi-cycle cache-miss stall by holding the
// stalled load's address across ticks until its latency elapses,
// grounded on the teacher's cache_stages.go pending/completed pattern.
type MemoryStage struct {
	memory   *emu.Memory
	cache    *cache.Cache
	storeBuf *storebuffer.StoreBuffer

	pendingLoad bool
	pendingPC   uint64
	pendingAddr uint64
	pendingData uint64
	remaining   uint64
}

// NewMemoryStage creates a Memory stage.
func NewMemoryStage(memory *emu.Memory, c *cache.Cache, storeBuf *storebuffer.StoreBuffer) *MemoryStage {
	return &MemoryStage{memory: memory, cache: c, storeBuf: storeBuf}
}

// MemoryOutcome is everything the controller needs from one Memory
// cycle.
type MemoryOutcome struct {
	MemData uint64
	Stall   bool
	Err     error

	CacheAccess bool
	CacheHit    bool

	StoreBufferForward bool

	DrainedStore bool
	DrainHit     bool
}

func (s *MemoryStage) resetPending() {
	s.pendingLoad = false
	s.remaining = 0
}

// tryDrain opportunistically writes one buffered store back to the
// cache when the cache port isn't needed for a load this cycle.
func (s *MemoryStage) tryDrain() (bool, bool) {
	if s.storeBuf.Len() == 0 {
		return false, false
	}
	entry, ok := s.storeBuf.Drain()
	if !ok {
		return false, false
	}
	res := s.cache.Write(entry.Addr, entry.Size, entry.Value)
	return true, res.Hit
}

// Access runs the Memory stage for the instruction in em.
func (s *MemoryStage) Access(em *EMRegister) MemoryOutcome {
	if !em.Valid {
		s.resetPending()
		drained, hit := s.tryDrain()
		return MemoryOutcome{DrainedStore: drained, DrainHit: hit}
	}

	if em.Inst != nil && em.Inst.Op == insts.OpFence {
		// A fence is a drain barrier: it must not retire while stores
		// behind it are still unflushed to the cache.
		if s.storeBuf.Len() > 0 {
			return MemoryOutcome{Stall: true}
		}
		return MemoryOutcome{}
	}

	if !em.MemRead && !em.MemWrite {
		drained, hit := s.tryDrain()
		return MemoryOutcome{DrainedStore: drained, DrainHit: hit}
	}

	size := em.Inst.MemSize()

	if em.MemWrite {
		if err := s.memory.CheckDataRange(em.MemAddr, size); err != nil {
			return MemoryOutcome{Err: err}
		}
		if s.storeBuf.IsFull() {
			return MemoryOutcome{Stall: true}
		}
		s.storeBuf.Push(em.MemAddr, size, em.StoreValue)
		return MemoryOutcome{}
	}

	// Load.
	if err := s.memory.CheckDataRange(em.MemAddr, size); err != nil {
		return MemoryOutcome{Err: err}
	}

	if s.pendingLoad && s.pendingPC == em.PC && s.pendingAddr == em.MemAddr {
		s.remaining--
		if s.remaining > 0 {
			return MemoryOutcome{Stall: true}
		}
		s.pendingLoad = false
		return MemoryOutcome{MemData: s.pendingData}
	}
	if s.pendingLoad {
		s.resetPending()
	}

	q := s.storeBuf.Query(em.MemAddr, size)
	if q.Stall {
		// Partial overlap with an in-flight store: the buffer must
		// drain before this load can be satisfied either way.
		s.tryDrain()
		return MemoryOutcome{Stall: true}
	}
	if q.Forward {
		return MemoryOutcome{MemData: q.Value, StoreBufferForward: true}
	}

	res := s.cache.Read(em.MemAddr, size)
	if res.Hit {
		return MemoryOutcome{MemData: res.Data, CacheAccess: true, CacheHit: true}
	}

	s.pendingLoad = true
	s.pendingPC = em.PC
	s.pendingAddr = em.MemAddr
	s.pendingData = res.Data
	s.remaining = res.Latency - 1
	if s.remaining > 0 {
		return MemoryOutcome{Stall: true, CacheAccess: true, CacheHit: false}
	}
	s.pendingLoad = false
	return MemoryOutcome{MemData: res.Data, CacheAccess: true, CacheHit: false}
}

// Reset clears the Memory stage's in-flight miss state.
func (s *MemoryStage) Reset() {
	s.resetPending()
}

// WritebackStage commits architectural state: register file and
// flags. It is the pipeline's single serialization point — no other
// stage is allowed to mutate emu.RegFile.
type WritebackStage struct {
	regFile *emu.RegFile
}

// NewWritebackStage creates a Writeback stage.
func NewWritebackStage(regFile *emu.RegFile) *WritebackStage {
	return &WritebackStage{regFile: regFile}
}

// WritebackOutcome reports whether the committed instruction ends the
// program.
type WritebackOutcome struct {
	Halted     bool
	HaltReason HaltReason
	ExitCode   int64
}

// Writeback commits mw to architectural state.
func (s *WritebackStage) Writeback(mw *MWRegister) WritebackOutcome {
	if !mw.Valid {
		return WritebackOutcome{}
	}

	if mw.RegWrite {
		val := mw.ALUResult
		if mw.MemToReg {
			val = mw.MemData
		}
		s.regFile.WriteReg(mw.Rd, val)
	}
	if mw.SetFlags {
		s.regFile.Flags = mw.Flags
	}

	switch {
	case mw.IsHalt:
		return WritebackOutcome{Halted: true, HaltReason: HaltSuccess}
	case mw.IsSyscallExit:
		return WritebackOutcome{Halted: true, HaltReason: HaltSuccess, ExitCode: mw.SyscallExitCode}
	case mw.IsTrap:
		return WritebackOutcome{Halted: true, HaltReason: HaltTrap}
	}
	return WritebackOutcome{}
}
