package pipeline

// HazardUnit detects the hazards spec.md section 4.5 enumerates. It is
// advisory only: it reports what it sees, and the controller decides
// how to act on it. Forwarding resolution lives in ForwardingUnit
// (forwarding.go); this unit only flags the cases forwarding cannot
// fix on its own.
type HazardUnit struct{}

// NewHazardUnit creates a new hazard detection unit.
func NewHazardUnit() *HazardUnit {
	return &HazardUnit{}
}

// DetectLoadUseHazard reports whether the instruction about to enter
// Decode (already decoded, hence the Rn/Rm/uses* arguments rather than
// raw bytes) depends on a load currently sitting in the DE register
// (about to enter Execute this cycle). A load's data isn't available
// until it reaches Memory, one cycle after EX/MEM forwarding would need
// it, so no forwarding path can satisfy this — the only fix is a
// one-cycle stall.
func (h *HazardUnit) DetectLoadUseHazard(de *DERegister, consumerRn, consumerRm uint8, usesRn, usesRm bool) bool {
	if !de.Valid || !de.MemRead {
		return false
	}
	if usesRn && consumerRn == de.Rd {
		return true
	}
	if usesRm && consumerRm == de.Rd {
		return true
	}
	return false
}

// StallCause classifies why a cycle failed to retire an instruction,
// for the metrics collector's per-cause stall tally (spec.md section
// 6).
type StallCause uint8

const (
	StallData StallCause = iota
	StallLoadUse
	StallStructural
	StallBranch
)

// StallResult indicates what pipeline actions the controller should
// take this cycle.
type StallResult struct {
	StallIF        bool
	StallID        bool
	InsertBubbleEX bool
	FlushIF        bool
	FlushID        bool
	Cause          StallCause
	Stalled        bool
}

// ComputeStalls turns the raw hazard/branch signals the controller
// observed this cycle into the stage actions it must apply.
func (h *HazardUnit) ComputeStalls(loadUseHazard, branchMispredict bool) StallResult {
	result := StallResult{}

	if loadUseHazard {
		result.StallIF = true
		result.StallID = true
		result.InsertBubbleEX = true
		result.Cause = StallLoadUse
		result.Stalled = true
	}

	if branchMispredict {
		result.FlushIF = true
		result.FlushID = true
		result.Cause = StallBranch
		result.Stalled = true
	}

	return result
}
