package engine_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/punkvm/punkvm/bytecode"
	"github.com/punkvm/punkvm/engine"
	"github.com/punkvm/punkvm/insts"
	"github.com/punkvm/punkvm/timing/pipeline"
)

// --- hand-assembler helpers, the same small set timing/pipeline's and
// timing/core's tests use; each test package keeps its own copy since
// Go doesn't let unexported helpers cross package boundaries.

func fmtB(op1, op2 insts.OperandKind) byte {
	return byte(uint8(op1)<<4 | uint8(op2))
}

func instBytes(op insts.Op, format byte, payload ...byte) []byte {
	size := 2 + 1 + len(payload)
	out := []byte{byte(op), format, byte(size)}
	return append(out, payload...)
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

func movi(rd uint8, imm uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, imm)
	payload := append([]byte{rd & 0x0F}, b...)
	return instBytes(insts.OpMOVI, fmtB(insts.KindImm64, insts.KindNone), payload...)
}

func add(rd, rn, rm uint8) []byte {
	return instBytes(insts.OpADD, fmtB(insts.KindReg4, insts.KindReg4), rd&0xF, rn&0xF, rm&0xF)
}

func div(rd, rn, rm uint8) []byte {
	return instBytes(insts.OpDIV, fmtB(insts.KindReg4, insts.KindReg4), rd&0xF, rn&0xF, rm&0xF)
}

func subi(rd, rn uint8, imm uint32) []byte {
	payload := []byte{rd & 0xF, rn & 0xF}
	payload = append(payload, u32(imm)...)
	return instBytes(insts.OpSUBI, fmtB(insts.KindReg4, insts.KindImm32), payload...)
}

func jmpIfNotZero(rn uint8, offset int32) []byte {
	payload := append([]byte{rn & 0xF}, u32(uint32(offset))...)
	return instBytes(insts.OpJMPIfNotZero, fmtB(insts.KindReg4, insts.KindPCRel), payload...)
}

func load(rd, rn uint8, offset int16) []byte {
	payload := []byte{rd & 0xF, (rn & 0xF) << 4}
	payload = append(payload, u16(uint16(offset))...)
	return instBytes(insts.OpLoad, fmtB(insts.KindRegOffset, insts.KindNone), payload...)
}

func syscallInst() []byte { return instBytes(insts.OpSyscall, 0) }
func halt() []byte        { return instBytes(insts.OpHalt, 0) }

// pad appends n extra HALT instructions so Fetch's speculative
// run-ahead past a HALT (or a syscall that exits) never walks off the
// end of the code segment.
func pad(code []byte, n int) []byte {
	for i := 0; i < n; i++ {
		code = append(code, halt()...)
	}
	return code
}

func assemble(instrs ...[]byte) []byte {
	var out []byte
	for _, i := range instrs {
		out = append(out, i...)
	}
	return out
}

// buildFile assembles a minimal well-formed PUNK program: a code
// segment at 0x1000 (entry point) and an optional data segment,
// mirroring bytecode_test's buildFile one level down.
func buildFile(code []byte, data []byte, dataAddr uint64) []byte {
	numSegments := uint16(1)
	if data != nil {
		numSegments = 2
	}

	var out []byte
	out = append(out, bytecode.Magic[:]...)
	out = append(out, u16(bytecode.Version)...)
	out = append(out, u16(0)...) // reserved flags
	out = append(out, u64(0x1000)...)
	out = append(out, u64(0x8000)...)
	out = append(out, u16(numSegments)...)
	out = append(out, u32(0)...) // empty metadata block

	out = append(out, u64(0x1000)...)
	out = append(out, u32(uint32(len(code)))...)
	out = append(out, u32(uint32(len(code)))...)
	out = append(out, u32(uint32(bytecode.SegmentFlagExecute|bytecode.SegmentFlagRead))...)
	out = append(out, code...)

	if data != nil {
		out = append(out, u64(dataAddr)...)
		out = append(out, u32(uint32(len(data)))...)
		out = append(out, u32(uint32(len(data)))...)
		out = append(out, u32(uint32(bytecode.SegmentFlagRead|bytecode.SegmentFlagWrite))...)
		out = append(out, data...)
	}

	return out
}

var _ = Describe("Engine", func() {
	It("runs a straight-line ALU program to a clean halt", func() {
		code := assemble(movi(1, 5), movi(2, 10), add(3, 1, 2))
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, nil, 0)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(e.ReadRegister(3)).To(Equal(uint64(15)))
	})

	It("loads a value out of a disjoint data segment", func() {
		dataAddr := uint64(0x9000)
		code := assemble(movi(1, dataAddr), load(2, 1, 0))
		code = append(code, halt()...)
		code = pad(code, 8)

		data := u64(123)
		file := buildFile(code, data, dataAddr)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(e.ReadRegister(2)).To(Equal(uint64(123)))
	})

	It("exits cleanly via the exit syscall with the requested exit code", func() {
		code := assemble(
			movi(0, 7), // exit code
			movi(7, 0), // syscall number: exit
			syscallInst(),
		)
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, nil, 0)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(res.ExitCode).To(Equal(int64(7)))
	})

	It("writes to stdout via the write syscall", func() {
		msgAddr := uint64(0x9000)
		msg := []byte("hi")

		code := assemble(
			movi(0, 1),       // fd 1 (stdout)
			movi(1, msgAddr), // buf ptr
			movi(2, uint64(len(msg))),
			movi(7, 1), // syscall number: write
			syscallInst(),
			movi(0, 0),
			movi(7, 0), // syscall number: exit
			syscallInst(),
		)
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, msg, msgAddr)

		var stdout bytes.Buffer
		e := engine.Create(engine.WithStdout(&stdout))
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(stdout.String()).To(Equal("hi"))
	})

	It("loops on a backward branch and exposes branch stats in the halt metrics", func() {
		subiInstr := subi(1, 1, 1)
		branchInstr := jmpIfNotZero(1, -int32(len(subiInstr)))

		code := assemble(movi(1, 5), subiInstr, branchInstr)
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, nil, 0)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(e.ReadRegister(1)).To(Equal(uint64(0)))
		Expect(res.Metrics.BranchPredictionsAttempted).To(BeNumerically(">=", 5))
	})

	It("returns a division-by-zero result of zero without faulting", func() {
		code := assemble(movi(1, 9), movi(2, 0), div(3, 1, 2))
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, nil, 0)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		res, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(pipeline.HaltSuccess))
		Expect(e.ReadRegister(3)).To(Equal(uint64(0)))
	})

	It("reads back memory contents via ReadMemory", func() {
		dataAddr := uint64(0x9000)
		code := assemble(movi(1, dataAddr), load(2, 1, 0))
		code = append(code, halt()...)
		code = pad(code, 8)

		data := u64(0xDEADBEEF)
		file := buildFile(code, data, dataAddr)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())
		_, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())

		got := e.ReadMemory(dataAddr, 8)
		Expect(binary.LittleEndian.Uint64(got)).To(Equal(uint64(0xDEADBEEF)))
	})

	It("rejects a malformed program at Load", func() {
		e := engine.Create()
		err := e.Load([]byte{'B', 'A', 'D', '!'})
		Expect(err).To(HaveOccurred())
	})

	It("returns an error when Run is called before Load", func() {
		e := engine.Create()
		_, err := e.Run(1000)
		Expect(err).To(HaveOccurred())
	})

	It("reports a budget-exhausted error when maxCycles elapses first", func() {
		subiInstr := subi(1, 1, 1)
		branchInstr := jmpIfNotZero(1, -int32(len(subiInstr)))

		code := assemble(movi(1, 1000000), subiInstr, branchInstr)
		code = append(code, halt()...)
		code = pad(code, 8)
		file := buildFile(code, nil, 0)

		e := engine.Create()
		Expect(e.Load(file)).To(Succeed())

		_, err := e.Run(5)
		Expect(err).To(HaveOccurred())
		var budgetErr *pipeline.BudgetExhausted
		Expect(err).To(BeAssignableToTypeOf(budgetErr))
	})

	It("resets cleanly so a second program can be loaded and run", func() {
		code1 := assemble(movi(1, 1))
		code1 = append(code1, halt()...)
		code1 = pad(code1, 8)
		file1 := buildFile(code1, nil, 0)

		e := engine.Create()
		Expect(e.Load(file1)).To(Succeed())
		_, err := e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.ReadRegister(1)).To(Equal(uint64(1)))

		e.Reset()

		code2 := assemble(movi(1, 2))
		code2 = append(code2, halt()...)
		code2 = pad(code2, 8)
		file2 := buildFile(code2, nil, 0)

		Expect(e.Load(file2)).To(Succeed())
		_, err = e.Run(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.ReadRegister(1)).To(Equal(uint64(2)))
	})
})
