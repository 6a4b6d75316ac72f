package engine

import (
	"fmt"

	"github.com/punkvm/punkvm/bytecode"
	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/insts"
	"github.com/punkvm/punkvm/timing/pipeline"
)

// Engine is PunkVM's abstract external API: create, load, run,
// read_register, read_memory (spec.md section 6). One Engine owns one
// independent set of architectural and timing state; running several
// concurrently is safe precisely because nothing here is package-level
// (spec.md section 9).
//
// Memory's code/data split is fixed at construction (emu.NewMemory's
// codeEnd), but that boundary is only known once a program's code
// segment length is parsed — so, unlike the teacher's CLI driver which
// builds emu.Memory before ever touching loader.Program, Create only
// stores configuration and Load does the actual component wiring.
type Engine struct {
	cfg Config

	regFile *emu.RegFile
	memory  *emu.Memory
	core    *pipeline.Pipeline

	loaded bool
}

// Create builds a new engine instance with the given configuration.
// This is spec.md's `create(config) -> engine`.
func Create(opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg, regFile: &emu.RegFile{}}
}

// Load parses a PunkVM bytecode image, sizes and fills the engine's
// memory image from its segments, and positions the PC and stack
// pointer at the program's declared entry point and initial stack.
// This is spec.md's `load(bytecode_bytes) -> ok | LoadError`.
func (e *Engine) Load(data []byte) error {
	prog, err := bytecode.Load(data)
	if err != nil {
		return err
	}

	code := prog.CodeSegment()
	codeEnd := code.Addr + code.MemSize

	memSize := e.cfg.MemorySize
	if int(codeEnd) > memSize {
		memSize = int(codeEnd)
	}
	for _, seg := range prog.DataSegments() {
		if end := int(seg.Addr + seg.MemSize); end > memSize {
			memSize = end
		}
	}

	e.regFile.Reset()
	e.memory = emu.NewMemory(memSize, codeEnd)

	syscallHandler := emu.NewDefaultSyscallHandler(e.regFile, e.memory, e.cfg.Stdout, e.cfg.Stderr)
	if e.cfg.Stdin != nil {
		syscallHandler.SetStdin(e.cfg.Stdin)
	}

	e.core = pipeline.NewPipeline(e.regFile, e.memory,
		pipeline.WithFetchBufferCapacity(e.cfg.FetchBufferCapacity),
		pipeline.WithBranchPredictorConfig(e.cfg.BranchPredictor),
		pipeline.WithStoreBufferCapacity(e.cfg.StoreBufferCapacity),
		pipeline.WithCacheConfig(e.cfg.CacheConfig),
		pipeline.WithTimingConfig(e.cfg.TimingConfig),
		pipeline.WithSyscallHandler(syscallHandler),
	)

	for i := range prog.Segments {
		seg := &prog.Segments[i]
		e.memory.LoadData(seg.Addr, seg.Data)
	}

	e.regFile.R[insts.StackReg] = prog.InitialSP
	e.core.SetPC(prog.EntryPoint)
	e.loaded = true
	return nil
}

// Run executes the loaded program until it halts or maxCycles elapses
// (0 means unbounded). This is spec.md's
// `run(max_cycles?) -> Halted{reason, exit_code, metrics} | Error`.
func (e *Engine) Run(maxCycles uint64) (Halted, error) {
	if !e.loaded {
		return Halted{}, fmt.Errorf("engine: Run called before Load")
	}

	e.core.Run(maxCycles)

	snap := e.core.Stats()
	if err := e.core.HaltErr(); err != nil {
		return Halted{Reason: e.core.HaltReason(), Metrics: snap}, err
	}
	return Halted{
		Reason:   e.core.HaltReason(),
		ExitCode: e.core.ExitCode(),
		Metrics:  snap,
	}, nil
}

// ReadRegister returns the architectural value of register id (0-15),
// valid for inspection once Run has returned. This is spec.md's
// `read_register(id) -> u64`.
func (e *Engine) ReadRegister(id uint8) uint64 {
	return e.regFile.ReadReg(id)
}

// ReadMemory copies length bytes starting at addr out of the engine's
// memory image. This is spec.md's `read_memory(addr, len) -> bytes`.
func (e *Engine) ReadMemory(addr uint64, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = e.memory.Read8(addr + uint64(i))
	}
	return out
}

// Reset clears the engine back to its pre-Load state, ready to Load a
// different program.
func (e *Engine) Reset() {
	if e.core != nil {
		e.core.Reset()
	}
	e.regFile.Reset()
	e.loaded = false
}
