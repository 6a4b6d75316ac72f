package pipeline

import (
	"errors"

	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/insts"
	"github.com/punkvm/punkvm/timing/cache"
	"github.com/punkvm/punkvm/timing/latency"
	"github.com/punkvm/punkvm/timing/storebuffer"
)

// PipelineConfig gathers everything NewPipeline needs to build the
// component stack: the cache/store-buffer/predictor sizing and the
// timing table, mirroring the teacher's single-struct config shape but
// extended for PunkVM's richer component set (spec.md section 2's
// component table).
type PipelineConfig struct {
	FetchBufferCapacity int
	BranchPredictor      BranchPredictorConfig
	StoreBufferCapacity int
	CacheConfig         cache.Config
	TimingConfig        *latency.TimingConfig
	SyscallHandler      emu.SyscallHandler
}

// DefaultPipelineConfig returns PunkVM's default component sizing.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FetchBufferCapacity: DefaultFetchBufferCapacity,
		BranchPredictor:     DefaultBranchPredictorConfig(),
		StoreBufferCapacity: storebuffer.DefaultCapacity,
		CacheConfig:         cache.DefaultL1Config(),
		TimingConfig:        latency.DefaultTimingConfig(),
	}
}

// PipelineOption is a functional option for configuring the Pipeline,
// following the teacher's PipelineOption pattern.
type PipelineOption func(*PipelineConfig)

// WithFetchBufferCapacity overrides the fetch buffer's depth.
func WithFetchBufferCapacity(n int) PipelineOption {
	return func(c *PipelineConfig) { c.FetchBufferCapacity = n }
}

// WithBranchPredictorConfig overrides the branch predictor's sizing.
func WithBranchPredictorConfig(bc BranchPredictorConfig) PipelineOption {
	return func(c *PipelineConfig) { c.BranchPredictor = bc }
}

// WithStoreBufferCapacity overrides the store buffer's entry count.
func WithStoreBufferCapacity(n int) PipelineOption {
	return func(c *PipelineConfig) { c.StoreBufferCapacity = n }
}

// WithCacheConfig overrides the L1 cache's organization.
func WithCacheConfig(cc cache.Config) PipelineOption {
	return func(c *PipelineConfig) { c.CacheConfig = cc }
}

// WithTimingConfig overrides the per-category instruction latencies.
func WithTimingConfig(tc *latency.TimingConfig) PipelineOption {
	return func(c *PipelineConfig) { c.TimingConfig = tc }
}

// WithSyscallHandler sets a custom syscall handler, exactly as the
// teacher's WithSyscallHandler does.
func WithSyscallHandler(handler emu.SyscallHandler) PipelineOption {
	return func(c *PipelineConfig) { c.SyscallHandler = handler }
}

// Pipeline implements PunkVM's 5-stage in-order pipeline: Fetch,
// Decode, Execute, Memory, Writeback, connected by the FD/DE/EM/MW
// latches, run in reverse order each Tick so every stage reads last
// cycle's latch contents and writes this cycle's, exactly as the
// teacher's Pipeline does for its 5-stage ARM64 variant.
type Pipeline struct {
	fetchStage     *FetchStage
	decodeStage    *DecodeStage
	executeStage   *ExecuteStage
	memoryStage    *MemoryStage
	writebackStage *WritebackStage

	hazard      *HazardUnit
	forwarding  *ForwardingUnit
	predictor   *BranchPredictor
	fetchBuffer *FetchBuffer
	storeBuf    *storebuffer.StoreBuffer
	cache       *cache.Cache
	latency     *latency.Table

	regFile *emu.RegFile
	memory  *emu.Memory

	fd FDRegister
	de DERegister
	em EMRegister
	mw MWRegister

	pc uint64

	epoch             uint64
	mispredictHold    uint64
	mispredictPenalty uint64

	halted     bool
	haltReason HaltReason
	haltErr    error
	exitCode   int64

	metrics Metrics
}

// NewPipeline creates a new 5-stage pipeline over the given
// architectural state.
func NewPipeline(regFile *emu.RegFile, memory *emu.Memory, opts ...PipelineOption) *Pipeline {
	cfg := DefaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	backing := cache.NewMemoryBacking(memory)
	c := cache.New(cfg.CacheConfig, backing)
	sb := storebuffer.New(cfg.StoreBufferCapacity)
	lt := latency.NewTableWithConfig(cfg.TimingConfig)
	predictor := NewBranchPredictor(cfg.BranchPredictor)
	hazard := NewHazardUnit()
	forwarding := NewForwardingUnit()
	decoder := insts.NewDecoder()
	alu := emu.NewALU()

	syscallHandler := cfg.SyscallHandler
	if syscallHandler == nil {
		syscallHandler = emu.NewDefaultSyscallHandler(regFile, memory, nil, nil)
	}

	return &Pipeline{
		fetchStage:        NewFetchStage(memory, decoder, predictor),
		decodeStage:       NewDecodeStage(regFile, hazard),
		executeStage:      NewExecuteStage(regFile, alu, forwarding, predictor, syscallHandler, memory, lt),
		memoryStage:       NewMemoryStage(memory, c, sb),
		writebackStage:    NewWritebackStage(regFile),
		hazard:            hazard,
		forwarding:        forwarding,
		predictor:         predictor,
		fetchBuffer:       NewFetchBuffer(cfg.FetchBufferCapacity),
		storeBuf:          sb,
		cache:             c,
		latency:           lt,
		regFile:           regFile,
		memory:            memory,
		mispredictPenalty: cfg.TimingConfig.BranchMispredictPenalty,
	}
}

// SetPC sets the program counter (entry point).
func (p *Pipeline) SetPC(pc uint64) {
	p.pc = pc
	p.regFile.PC = pc
}

// PC returns the current program counter.
func (p *Pipeline) PC() uint64 {
	return p.pc
}

// Halted reports whether the pipeline has stopped, for any reason.
func (p *Pipeline) Halted() bool {
	return p.halted
}

// HaltReason reports why the pipeline stopped. HaltNone while running.
func (p *Pipeline) HaltReason() HaltReason {
	return p.haltReason
}

// HaltErr returns the error that stopped the pipeline, or nil on a
// clean Halt/exit.
func (p *Pipeline) HaltErr() error {
	return p.haltErr
}

// ExitCode returns the program's exit code once halted.
func (p *Pipeline) ExitCode() int64 {
	return p.exitCode
}

// Stats returns a point-in-time metrics snapshot.
func (p *Pipeline) Stats() Snapshot {
	return p.metrics.Snapshot()
}

// GetFD, GetDE, GetEM, GetMW expose the current latch contents for
// inspection and testing.
func (p *Pipeline) GetFD() FDRegister { return p.fd }
func (p *Pipeline) GetDE() DERegister { return p.de }
func (p *Pipeline) GetEM() EMRegister { return p.em }
func (p *Pipeline) GetMW() MWRegister { return p.mw }

// Predictor exposes the branch predictor (and, through it, the RAS) for
// inspection and testing.
func (p *Pipeline) Predictor() *BranchPredictor { return p.predictor }

// Tick advances the pipeline by one cycle. Every stage reads the
// latches left by the previous Tick and the pipeline commits their
// successors synchronously at the end, matching the teacher's
// reverse-stage-order Tick.
func (p *Pipeline) Tick() {
	if p.halted {
		return
	}
	p.metrics.Cycles++

	wbOut := p.writebackStage.Writeback(&p.mw)
	if p.mw.Valid {
		p.metrics.InstructionsCommitted++
	}
	if wbOut.Halted {
		p.halted = true
		p.haltReason = wbOut.HaltReason
		p.exitCode = wbOut.ExitCode
		return
	}

	memOut := p.memoryStage.Access(&p.em)
	if memOut.Err != nil {
		p.failMemory(memOut.Err)
		return
	}
	if memOut.CacheAccess {
		p.metrics.RecordCacheAccess(p.em.MemWrite, memOut.CacheHit)
	}
	if memOut.StoreBufferForward {
		p.metrics.RecordStoreBufferForward()
	}
	if memOut.DrainedStore {
		p.metrics.RecordCacheAccess(true, memOut.DrainHit)
	}

	if memOut.Stall {
		// Structural MEM stall: the in-flight access itself must stay in
		// EM to be retried next cycle, so EM holds rather than bubbles.
		// Nothing behind it may advance either.
		p.metrics.RecordStall(StallStructural)
		p.commit(p.fd, p.de, p.em, MWRegister{})
		return
	}

	var nextMW MWRegister
	if p.em.Valid {
		nextMW = MWRegister{
			Valid:           true,
			PC:              p.em.PC,
			Inst:            p.em.Inst,
			SpecTag:         p.em.SpecTag,
			ALUResult:       p.em.ALUResult,
			MemData:         memOut.MemData,
			Flags:           p.em.Flags,
			Rd:              p.em.Rd,
			RegWrite:        p.em.RegWrite,
			MemToReg:        p.em.MemToReg,
			SetFlags:        p.em.SetFlags,
			IsHalt:          p.em.IsHalt,
			IsSyscallExit:   p.em.IsSyscallExit,
			SyscallExitCode: p.em.SyscallExitCode,
			IsTrap:          p.em.IsTrap,
		}
	}

	exOut := p.executeStage.Execute(&p.de, &p.em, &p.mw)
	if exOut.Err != nil {
		p.failControl(p.de.PC, exOut.RedirectPC, exOut.Err)
		return
	}
	if exOut.ForwardedRn {
		p.metrics.RecordForward()
	}
	if exOut.ForwardedRm {
		p.metrics.RecordForward()
	}

	if exOut.Stall {
		// EX multi-cycle busy (MUL/DIV) or a SYSCALL waiting on EM: DE
		// holds to be re-offered next cycle; nothing completes EX this
		// cycle so EM bubbles.
		p.metrics.RecordStall(StallData)
		p.commit(p.fd, p.de, EMRegister{}, nextMW)
		return
	}

	if exOut.BranchResolved {
		p.metrics.RecordBranch(exOut.BranchCorrect)
	}

	if exOut.Mispredicted {
		p.metrics.RecordStall(StallBranch)
		p.epoch++
		p.fetchBuffer.Clear()
		// Every instruction fetched after this one was fetched down the
		// wrong, never-taken path and may have pushed/popped the RAS
		// speculatively (a wrong-path Call/Ret). Roll the RAS back to the
		// checkpoint captured right after this instruction's own
		// Fetch-time prediction, which still includes this instruction's
		// own push/pop (spec.md section 8 testable property 6).
		p.predictor.RAS().Restore(exOut.EM.RASCheckpoint)
		p.pc = exOut.RedirectPC
		extra := uint64(0)
		if p.mispredictPenalty > 2 {
			extra = p.mispredictPenalty - 2
		}
		p.mispredictHold = extra
		p.commit(FDRegister{}, DERegister{}, exOut.EM, nextMW)
		return
	}

	deResult, loadUseHazard := p.decodeStage.Decode(&p.fd, &p.de)
	var nextDE DERegister
	if loadUseHazard {
		p.metrics.RecordStall(StallLoadUse)
		p.metrics.RecordHazard()
		nextDE = DERegister{}
	} else {
		nextDE = deResult
	}

	var nextFD FDRegister
	switch {
	case loadUseHazard:
		nextFD = p.fd // hold for retry next cycle
	case p.mispredictHold > 0:
		p.mispredictHold--
		p.metrics.RecordStall(StallBranch)
		nextFD = FDRegister{}
	default:
		if !p.fetchBuffer.IsFull() {
			entry, err := p.fetchStage.Step(p.pc)
			if err != nil {
				p.failFetch(p.pc, err)
				return
			}
			p.fetchBuffer.Push(entry)
			p.pc = entry.PredictedNextPC
		}
		if e, ok := p.fetchBuffer.Pop(); ok {
			nextFD = FDRegister{
				Valid:           true,
				PC:              e.PC,
				Inst:            e.Inst,
				SpecTag:         p.epoch,
				PredictedTaken:  e.PredictedTaken,
				PredictedNextPC: e.PredictedNextPC,
				RASCheckpoint:   e.RASCheckpoint,
			}
		}
	}

	p.commit(nextFD, nextDE, exOut.EM, nextMW)
}

// commit synchronously installs next-cycle latch contents, the single
// point where FD/DE/EM/MW actually change.
func (p *Pipeline) commit(fd FDRegister, de DERegister, em EMRegister, mw MWRegister) {
	p.fd = fd
	p.de = de
	p.em = em
	p.mw = mw
}

// failMemory tears down the pipeline on a MemoryFault, per spec.md
// section 7: errors inside a stage stop all further commits.
func (p *Pipeline) failMemory(err error) {
	p.halted = true
	p.haltReason = HaltMemoryFault
	p.haltErr = &MemoryFault{PC: p.em.PC, Addr: p.em.MemAddr, Cause: err, Message: err.Error()}
}

// failControl tears down the pipeline on a ControlFault: a resolved
// branch/call/return target outside the code range.
func (p *Pipeline) failControl(pc, target uint64, err error) {
	p.halted = true
	p.haltReason = HaltControlFault
	p.haltErr = &ControlFault{PC: pc, Target: target, Cause: err, Message: err.Error()}
}

// failFetch classifies a Fetch-stage failure: a truncated or unknown
// opcode is a DecodeError, while a code-range violation is a
// ControlFault (the PC itself ran off the code segment).
func (p *Pipeline) failFetch(pc uint64, err error) {
	var decErr *insts.DecodeError
	if errors.As(err, &decErr) {
		p.halted = true
		p.haltReason = HaltDecodeError
		p.haltErr = err
		return
	}
	p.failControl(pc, pc, err)
}

// Run executes the pipeline until it halts or maxCycles elapses (0
// means unbounded), returning the exit code.
func (p *Pipeline) Run(maxCycles uint64) int64 {
	for !p.halted {
		if maxCycles > 0 && p.metrics.Cycles >= maxCycles {
			p.halted = true
			p.haltReason = HaltBudgetExhausted
			p.haltErr = &BudgetExhausted{MaxCycles: maxCycles}
			break
		}
		p.Tick()
	}
	return p.exitCode
}

// RunCycles executes the pipeline for up to n cycles, returning true
// if it is still running afterward.
func (p *Pipeline) RunCycles(n uint64) bool {
	for i := uint64(0); i < n && !p.halted; i++ {
		p.Tick()
	}
	return !p.halted
}

// Reset clears all pipeline and component state back to a fresh
// start, for reuse across independent runs (spec.md section 9:
// multiple engine instances never share state).
func (p *Pipeline) Reset() {
	p.fd = FDRegister{}
	p.de = DERegister{}
	p.em = EMRegister{}
	p.mw = MWRegister{}
	p.pc = 0
	p.epoch = 0
	p.mispredictHold = 0
	p.halted = false
	p.haltReason = HaltNone
	p.haltErr = nil
	p.exitCode = 0
	p.metrics.Reset()
	p.fetchBuffer.Clear()
	p.predictor.Reset()
	p.storeBuf.Reset()
	p.cache.Reset()
	p.executeStage.Reset()
	p.memoryStage.Reset()
}
