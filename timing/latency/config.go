package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds cycle-latency values for each PunkVM instruction
// category. All fields are configurable (spec.md section 4.11 requires
// timing to be a tunable parameter, not hardwired), loaded from or
// saved to JSON the same way the teacher's configuration does.
type TimingConfig struct {
	// ALULatency is the execution latency for basic ALU/logic
	// operations (ADD, SUB, AND, OR, ...). Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// BranchLatency is the base execution latency for branch
	// instructions, excluding misprediction penalty. Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchMispredictPenalty is the additional cycles lost when the
	// branch predictor's guess is wrong and the pipeline must be
	// flushed. Default: 3 cycles (this is a 5-stage in-order pipeline,
	// not a deep out-of-order core).
	BranchMispredictPenalty uint64 `json:"branch_mispredict_penalty"`

	// LoadLatency is the latency for load operations on an L1 cache
	// hit. Default: 1 cycle.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the latency for store operations accepted into
	// the store buffer. Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// MultiplyLatency is the latency for MUL/MULI. Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatencyMin/Max bound DIV/MOD latency; spec.md does not
	// require these to be fixed, so the pipeline may model division as
	// variable-latency within this range. Defaults: 6/10 cycles.
	DivideLatencyMin uint64 `json:"divide_latency_min"`
	DivideLatencyMax uint64 `json:"divide_latency_max"`

	// SyscallLatency is the latency for SYSCALL, handling itself being
	// external to cycle accounting. Default: 1 cycle.
	SyscallLatency uint64 `json:"syscall_latency"`

	// CacheMissLatency records the L1 miss penalty. Default: 5 cycles.
	// The pipeline does not read it: the Memory stage takes hit and miss
	// latencies from the cache's own Config (HitLatency, MissLatency).
	CacheMissLatency uint64 `json:"cache_miss_latency"`
}

// DefaultTimingConfig returns a TimingConfig with PunkVM's reference
// default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:              1,
		BranchLatency:           1,
		BranchMispredictPenalty: 3,
		LoadLatency:             1,
		StoreLatency:            1,
		MultiplyLatency:         3,
		DivideLatencyMin:        6,
		DivideLatencyMax:        10,
		SyscallLatency:          1,
		CacheMissLatency:        5,
	}
}

// LoadConfig loads a TimingConfig from a JSON file, filling in
// PunkVM's defaults for any field the file omits.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are sane.
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.SyscallLatency == 0 {
		return fmt.Errorf("syscall_latency must be > 0")
	}
	if c.DivideLatencyMin > c.DivideLatencyMax {
		return fmt.Errorf("divide_latency_min must be <= divide_latency_max")
	}
	if c.CacheMissLatency == 0 {
		return fmt.Errorf("cache_miss_latency must be > 0")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	cp := *c
	return &cp
}
