package pipeline

import "fmt"

// HaltReason classifies why the engine stopped, per spec.md section
// 4.10's termination conditions.
type HaltReason uint8

const (
	HaltNone HaltReason = iota
	HaltSuccess
	HaltTrap
	HaltDecodeError
	HaltMemoryFault
	HaltControlFault
	HaltBudgetExhausted
	HaltInternalInvariant
)

func (r HaltReason) String() string {
	switch r {
	case HaltSuccess:
		return "success"
	case HaltTrap:
		return "trap"
	case HaltDecodeError:
		return "decode-error"
	case HaltMemoryFault:
		return "memory-fault"
	case HaltControlFault:
		return "control-fault"
	case HaltBudgetExhausted:
		return "budget-exhausted"
	case HaltInternalInvariant:
		return "internal-invariant-violated"
	default:
		return "none"
	}
}

// MemoryFault reports a load or store outside the declared data range,
// or any other memory-subsystem failure the pipeline cannot recover
// from mid-instruction. Per spec.md section 4.10 this halts the engine.
type MemoryFault struct {
	PC      uint64
	Addr    uint64
	Cause   error
	Message string
}

func (e *MemoryFault) Error() string {
	return fmt.Sprintf("memory fault at PC=0x%x addr=0x%x: %s", e.PC, e.Addr, e.Message)
}

func (e *MemoryFault) Unwrap() error { return e.Cause }

// ControlFault reports a resolved branch, call, or return target
// outside the code range. Per spec.md section 4.10 this halts the
// engine rather than silently clamping the PC.
type ControlFault struct {
	PC      uint64
	Target  uint64
	Cause   error
	Message string
}

func (e *ControlFault) Error() string {
	return fmt.Sprintf("control fault at PC=0x%x target=0x%x: %s", e.PC, e.Target, e.Message)
}

func (e *ControlFault) Unwrap() error { return e.Cause }

// BudgetExhausted reports that Run's cycle budget elapsed before the
// program halted on its own. It is not an error in the program; the
// caller simply asked for a bounded run.
type BudgetExhausted struct {
	MaxCycles uint64
}

func (e *BudgetExhausted) Error() string {
	return fmt.Sprintf("cycle budget exhausted after %d cycles", e.MaxCycles)
}

// InternalInvariantViolated reports a pipeline bookkeeping bug: a state
// the controller's own logic should make unreachable (a bubble
// committing a register write, a latch committing with no SpecTag
// match, etc). Per spec.md section 9's testable properties, hitting
// this is always a defect in the simulator, never in the guest
// program.
type InternalInvariantViolated struct {
	Message string
}

func (e *InternalInvariantViolated) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Message)
}
