package pipeline

// Metrics accumulates the counters spec.md section 6 names as the
// engine's output on halt: cycle/instruction counts, stalls broken down
// by cause, hazards and forwards, branch prediction accuracy, and
// load/store cache hit-miss splits. It belongs to one Pipeline instance,
// never to process-wide state, so multiple engines can run independently
// (spec.md section 9).
type Metrics struct {
	Cycles               uint64
	InstructionsCommitted uint64

	StallsData       uint64
	StallsLoadUse    uint64
	StallsStructural uint64
	StallsBranch     uint64

	HazardsDetected uint64
	ForwardsApplied uint64

	BranchPredictions uint64
	BranchCorrect     uint64

	CacheLoadHits    uint64
	CacheLoadMisses  uint64
	CacheStoreHits   uint64
	CacheStoreMisses uint64

	StoreBufferForwards uint64
}

// RecordStall tallies one stalled cycle under the given cause.
func (m *Metrics) RecordStall(cause StallCause) {
	switch cause {
	case StallData:
		m.StallsData++
	case StallLoadUse:
		m.StallsLoadUse++
	case StallStructural:
		m.StallsStructural++
	case StallBranch:
		m.StallsBranch++
	}
}

// RecordHazard tallies a hazard the hazard unit flagged this cycle,
// independent of whether it resolved via a stall or a forward.
func (m *Metrics) RecordHazard() {
	m.HazardsDetected++
}

// RecordForward tallies one operand successfully supplied by the
// forwarding unit rather than the register file.
func (m *Metrics) RecordForward() {
	m.ForwardsApplied++
}

// RecordBranch tallies one resolved branch outcome.
func (m *Metrics) RecordBranch(correct bool) {
	m.BranchPredictions++
	if correct {
		m.BranchCorrect++
	}
}

// RecordCacheAccess tallies one Memory-stage cache access.
func (m *Metrics) RecordCacheAccess(isStore, hit bool) {
	switch {
	case isStore && hit:
		m.CacheStoreHits++
	case isStore && !hit:
		m.CacheStoreMisses++
	case !isStore && hit:
		m.CacheLoadHits++
	default:
		m.CacheLoadMisses++
	}
}

// RecordStoreBufferForward tallies one store-to-load forward served by
// the store buffer.
func (m *Metrics) RecordStoreBufferForward() {
	m.StoreBufferForwards++
}

// IPC returns instructions committed per clock cycle.
func (m *Metrics) IPC() float64 {
	if m.Cycles == 0 {
		return 0
	}
	return float64(m.InstructionsCommitted) / float64(m.Cycles)
}

// Snapshot is the immutable metrics report the engine returns on halt.
type Snapshot struct {
	Cycles                uint64
	InstructionsCommitted uint64
	IPC                   float64

	StallsData       uint64
	StallsLoadUse    uint64
	StallsStructural uint64
	StallsBranch     uint64

	HazardsDetected uint64
	ForwardsApplied uint64

	BranchPredictionsAttempted uint64
	BranchPredictionsCorrect   uint64

	CacheLoadHits    uint64
	CacheLoadMisses  uint64
	CacheStoreHits   uint64
	CacheStoreMisses uint64

	StoreBufferForwards uint64
}

// Snapshot produces a point-in-time copy of the metrics for reporting.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Cycles:                     m.Cycles,
		InstructionsCommitted:      m.InstructionsCommitted,
		IPC:                        m.IPC(),
		StallsData:                 m.StallsData,
		StallsLoadUse:              m.StallsLoadUse,
		StallsStructural:           m.StallsStructural,
		StallsBranch:               m.StallsBranch,
		HazardsDetected:            m.HazardsDetected,
		ForwardsApplied:            m.ForwardsApplied,
		BranchPredictionsAttempted: m.BranchPredictions,
		BranchPredictionsCorrect:   m.BranchCorrect,
		CacheLoadHits:              m.CacheLoadHits,
		CacheLoadMisses:            m.CacheLoadMisses,
		CacheStoreHits:             m.CacheStoreHits,
		CacheStoreMisses:           m.CacheStoreMisses,
		StoreBufferForwards:        m.StoreBufferForwards,
	}
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	*m = Metrics{}
}
