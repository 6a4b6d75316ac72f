package pipeline

import "github.com/punkvm/punkvm/insts"

// BranchPredictorConfig holds configuration for the branch predictor.
type BranchPredictorConfig struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2.
	BHTSize uint32
	// BTBSize is the number of entries in the Branch Target Buffer.
	// Must be a power of 2.
	BTBSize uint32
	// RASDepth is the return address stack's bounded depth.
	RASDepth int
}

// DefaultBranchPredictorConfig returns a default configuration.
func DefaultBranchPredictorConfig() BranchPredictorConfig {
	return BranchPredictorConfig{
		BHTSize:  1024,
		BTBSize:  256,
		RASDepth: DefaultRASDepth,
	}
}

// BranchPredictorStats holds statistics for the branch predictor.
type BranchPredictorStats struct {
	Predictions    uint64
	Correct        uint64
	Mispredictions uint64
	BTBHits        uint64
	BTBMisses      uint64
}

// MispredictionRate returns the misprediction rate as a percentage.
func (s BranchPredictorStats) MispredictionRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 100
}

// FetchPrediction is the Fetch stage's speculative guess for where to
// fetch next, and whether that guess calls the instruction taken.
type FetchPrediction struct {
	Taken  bool
	NextPC uint64
}

// btbEntry represents an entry in the Branch Target Buffer.
type btbEntry struct {
	pc     uint64
	target uint64
}

// BranchPredictor implements a 2-bit saturating counter (bimodal)
// predictor with a Branch Target Buffer, a static cold-branch fallback,
// and a Return Address Stack, per spec.md section 4.7.
type BranchPredictor struct {
	bht []uint8

	btb      []btbEntry
	btbValid []bool

	bhtSize uint32
	btbSize uint32

	ras *RAS

	stats BranchPredictorStats
}

// NewBranchPredictor creates a new branch predictor with the given
// configuration.
func NewBranchPredictor(config BranchPredictorConfig) *BranchPredictor {
	bhtSize := config.BHTSize
	if bhtSize == 0 {
		bhtSize = 1024
	}
	btbSize := config.BTBSize
	if btbSize == 0 {
		btbSize = 256
	}

	bp := &BranchPredictor{
		bht:      make([]uint8, bhtSize),
		btb:      make([]btbEntry, btbSize),
		btbValid: make([]bool, btbSize),
		bhtSize:  bhtSize,
		btbSize:  btbSize,
		ras:      NewRAS(config.RASDepth),
	}

	// Weakly-taken reset: an untrained branch defaults to taken, same
	// bias the teacher's BHT uses.
	for i := range bp.bht {
		bp.bht[i] = 2
	}

	return bp
}

func (bp *BranchPredictor) bhtIndex(pc uint64) uint32 {
	return uint32(pc) & (bp.bhtSize - 1)
}

func (bp *BranchPredictor) btbIndex(pc uint64) uint32 {
	return uint32(pc) & (bp.btbSize - 1)
}

// RAS returns the predictor's return address stack, for inspection, for
// the Fetch stage's per-instruction Snapshot, and for the controller's
// Restore on a misprediction. Pushes and pops happen in PredictFetch.
func (bp *BranchPredictor) RAS() *RAS {
	return bp.ras
}

// PredictFetch produces Fetch's speculative next-PC for the instruction
// it just decoded. Non-branches fall straight through. Return
// instructions consult the RAS first; a RAS hit is an immediate,
// always-taken prediction. Calls push their own return address as a
// side effect of being fetched (spec.md section 4.7). Everything else
// consults the BHT/BTB, falling back to a static backward-taken,
// forward-not-taken heuristic on a cold (BTB-miss) branch, per spec.md
// section 4.7.
func (bp *BranchPredictor) PredictFetch(inst *insts.Instruction, pc uint64, fallthroughPC uint64) FetchPrediction {
	if !inst.IsBranch {
		return FetchPrediction{Taken: false, NextPC: fallthroughPC}
	}

	if inst.IsReturn {
		if target, ok := bp.ras.Pop(); ok {
			bp.stats.Predictions++
			return FetchPrediction{Taken: true, NextPC: target}
		}
		// RAS underflow: fall through to the generic BTB/static path
		// below, which for a register-indirect RET has no known target
		// and so predicts not-taken (fallthrough), matching spec.md
		// section 4.10's "fall back to decoded target" (the decoded
		// target for RET is only known once EX reads the link
		// register).
	}

	if inst.IsCall {
		bp.ras.Push(fallthroughPC)
	}

	bhtIdx := bp.bhtIndex(pc)
	counter := bp.bht[bhtIdx]
	bhtTaken := counter >= 2

	btbIdx := bp.btbIndex(pc)
	if bp.btbValid[btbIdx] && bp.btb[btbIdx].pc == pc {
		bp.stats.BTBHits++
		bp.stats.Predictions++
		if bhtTaken {
			return FetchPrediction{Taken: true, NextPC: bp.btb[btbIdx].target}
		}
		return FetchPrediction{Taken: false, NextPC: fallthroughPC}
	}

	bp.stats.BTBMisses++
	bp.stats.Predictions++

	if inst.Op.IsDirectBranch() && inst.Offset < 0 {
		return FetchPrediction{Taken: true, NextPC: uint64(int64(pc) + inst.Offset)}
	}
	return FetchPrediction{Taken: false, NextPC: fallthroughPC}
}

// UpdateExecute records the actual outcome of a resolved branch,
// advancing the 2-bit counter and installing the BTB entry on a taken
// branch.
func (bp *BranchPredictor) UpdateExecute(pc uint64, predictedTaken, actualTaken bool, actualTarget uint64) {
	if predictedTaken == actualTaken {
		bp.stats.Correct++
	} else {
		bp.stats.Mispredictions++
	}

	bhtIdx := bp.bhtIndex(pc)
	if actualTaken {
		if bp.bht[bhtIdx] < 3 {
			bp.bht[bhtIdx]++
		}
	} else if bp.bht[bhtIdx] > 0 {
		bp.bht[bhtIdx]--
	}

	if actualTaken {
		btbIdx := bp.btbIndex(pc)
		bp.btb[btbIdx] = btbEntry{pc: pc, target: actualTarget}
		bp.btbValid[btbIdx] = true
	}
}

// Stats returns the branch predictor's statistics.
func (bp *BranchPredictor) Stats() BranchPredictorStats {
	return bp.stats
}

// Reset clears all predictor and RAS state and statistics.
func (bp *BranchPredictor) Reset() {
	for i := range bp.bht {
		bp.bht[i] = 2
	}
	for i := range bp.btbValid {
		bp.btbValid[i] = false
	}
	bp.stats = BranchPredictorStats{}
	bp.ras.Reset()
}
