package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/punkvm/punkvm/insts"
	"github.com/punkvm/punkvm/timing/latency"
)

func instOf(op insts.Op, flags ...func(*insts.Instruction)) *insts.Instruction {
	inst := &insts.Instruction{Op: op}
	for _, f := range flags {
		f(inst)
	}
	return inst
}

func withMemRead(i *insts.Instruction)  { i.MemRead = true }
func withMemWrite(i *insts.Instruction) { i.MemWrite = true }
func withBranch(i *insts.Instruction)   { i.IsBranch = true }

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Timing Values", func() {
		It("should have correct ALU latency", func() {
			Expect(table.Config().ALULatency).To(Equal(uint64(1)))
		})

		It("should have correct branch latency", func() {
			Expect(table.Config().BranchLatency).To(Equal(uint64(1)))
		})

		It("should have correct load latency", func() {
			Expect(table.Config().LoadLatency).To(Equal(uint64(1)))
		})

		It("should have correct store latency", func() {
			Expect(table.Config().StoreLatency).To(Equal(uint64(1)))
		})

		It("should have a cache miss latency of 5 cycles", func() {
			Expect(table.Config().CacheMissLatency).To(Equal(uint64(5)))
		})
	})

	Describe("ALU Instruction Latencies", func() {
		It("should return ALULatency for ADD", func() {
			Expect(table.GetLatency(instOf(insts.OpADD))).To(Equal(uint64(1)))
		})

		It("should return ALULatency for ADDI", func() {
			Expect(table.GetLatency(instOf(insts.OpADDI))).To(Equal(uint64(1)))
		})

		It("should return ALULatency for AND/OR/XOR", func() {
			Expect(table.GetLatency(instOf(insts.OpAND))).To(Equal(uint64(1)))
			Expect(table.GetLatency(instOf(insts.OpOR))).To(Equal(uint64(1)))
			Expect(table.GetLatency(instOf(insts.OpXOR))).To(Equal(uint64(1)))
		})
	})

	Describe("Multiply and Divide Instruction Latencies", func() {
		It("should return MultiplyLatency for MUL", func() {
			Expect(table.GetLatency(instOf(insts.OpMUL))).To(Equal(uint64(3)))
		})

		It("should return DivideLatencyMax for DIV as the conservative estimate", func() {
			Expect(table.GetLatency(instOf(insts.OpDIV))).To(Equal(uint64(10)))
		})

		It("should return DivideLatencyMin for DIV's best case", func() {
			Expect(table.GetMinLatency(instOf(insts.OpDIV))).To(Equal(uint64(6)))
		})
	})

	Describe("Branch Instruction Latencies", func() {
		It("should return BranchLatency for JMP", func() {
			Expect(table.GetLatency(instOf(insts.OpJMP))).To(Equal(uint64(1)))
		})

		It("should return BranchLatency for CALL and RET", func() {
			Expect(table.GetLatency(instOf(insts.OpCALL))).To(Equal(uint64(1)))
			Expect(table.GetLatency(instOf(insts.OpRET))).To(Equal(uint64(1)))
		})
	})

	Describe("Memory Instruction Latencies", func() {
		It("should return LoadLatency for LOAD", func() {
			Expect(table.GetLatency(instOf(insts.OpLoad))).To(Equal(uint64(1)))
		})

		It("should return StoreLatency for STORE", func() {
			Expect(table.GetLatency(instOf(insts.OpStore))).To(Equal(uint64(1)))
		})
	})

	Describe("Instruction Type Detection", func() {
		It("should detect memory operations", func() {
			load := instOf(insts.OpLoad, withMemRead)
			store := instOf(insts.OpStore, withMemWrite)
			add := instOf(insts.OpADD)

			Expect(table.IsMemoryOp(load)).To(BeTrue())
			Expect(table.IsMemoryOp(store)).To(BeTrue())
			Expect(table.IsMemoryOp(add)).To(BeFalse())
		})

		It("should detect load and store operations independently", func() {
			load := instOf(insts.OpLoad, withMemRead)
			store := instOf(insts.OpStore, withMemWrite)

			Expect(table.IsLoadOp(load)).To(BeTrue())
			Expect(table.IsLoadOp(store)).To(BeFalse())
			Expect(table.IsStoreOp(store)).To(BeTrue())
			Expect(table.IsStoreOp(load)).To(BeFalse())
		})

		It("should detect branch operations", func() {
			jmp := instOf(insts.OpJMP, withBranch)
			add := instOf(insts.OpADD)

			Expect(table.IsBranchOp(jmp)).To(BeTrue())
			Expect(table.IsBranchOp(add)).To(BeFalse())
		})
	})

	Describe("Nil Instruction Handling", func() {
		It("should return 1 for nil instruction", func() {
			Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		})

		It("should return false for nil instruction memory check", func() {
			Expect(table.IsMemoryOp(nil)).To(BeFalse())
			Expect(table.IsLoadOp(nil)).To(BeFalse())
			Expect(table.IsStoreOp(nil)).To(BeFalse())
			Expect(table.IsBranchOp(nil)).To(BeFalse())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := &latency.TimingConfig{
				ALULatency:              2,
				BranchLatency:           3,
				BranchMispredictPenalty: 6,
				LoadLatency:             8,
				StoreLatency:            2,
				MultiplyLatency:         4,
				DivideLatencyMin:        12,
				DivideLatencyMax:        20,
				SyscallLatency:          1,
				CacheMissLatency:        7,
			}
			customTable := latency.NewTableWithConfig(config)

			Expect(customTable.GetLatency(instOf(insts.OpADD))).To(Equal(uint64(2)))
			Expect(customTable.GetLatency(instOf(insts.OpLoad))).To(Equal(uint64(8)))
			Expect(customTable.GetLatency(instOf(insts.OpJMP))).To(Equal(uint64(3)))
			Expect(customTable.CacheMissLatency()).To(Equal(uint64(7)))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero ALU latency", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero branch latency", func() {
			config := latency.DefaultTimingConfig()
			config.BranchLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero load latency", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero store latency", func() {
			config := latency.DefaultTimingConfig()
			config.StoreLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject inverted divide latency range", func() {
			config := latency.DefaultTimingConfig()
			config.DivideLatencyMin = 20
			config.DivideLatencyMax = 10
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero cache miss latency", func() {
			config := latency.DefaultTimingConfig()
			config.CacheMissLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			clone := original.Clone()

			clone.ALULatency = 100

			Expect(original.ALULatency).To(Equal(uint64(1)))
			Expect(clone.ALULatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.ALULatency = 5
			original.LoadLatency = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ALULatency).To(Equal(uint64(5)))
			Expect(loaded.LoadLatency).To(Equal(uint64(10)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
