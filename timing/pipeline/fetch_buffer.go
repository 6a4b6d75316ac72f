package pipeline

import "github.com/punkvm/punkvm/insts"

// DefaultFetchBufferCapacity matches spec.md section 3's "Capacity
// small (4-8)".
const DefaultFetchBufferCapacity = 4

// FetchBufferEntry is one pre-decoded instruction sitting in the fetch
// buffer, waiting for Decode to drain it into the FD register.
type FetchBufferEntry struct {
	Inst            *insts.Instruction
	PC              uint64
	PredictedTaken  bool
	PredictedNextPC uint64

	// RASCheckpoint is the return address stack's contents immediately
	// after this instruction's own Fetch-time prediction (its Call push
	// or Ret pop already applied, nothing fetched after it yet). Carried
	// through FD/DE/EM so a misprediction discovered at Execute can
	// restore the RAS to this exact point.
	RASCheckpoint []uint64
}

// FetchBuffer is the small FIFO between Fetch and the FD latch. Fetch
// pushes at most one entry per cycle, speculatively along the predicted
// path, and the controller pops one into FD in the same cycle. Fetch
// does not run on a cycle in which Decode stalls on a load-use hazard.
type FetchBuffer struct {
	entries  []FetchBufferEntry
	capacity int
}

// NewFetchBuffer creates a fetch buffer with the given capacity.
func NewFetchBuffer(capacity int) *FetchBuffer {
	if capacity <= 0 {
		capacity = DefaultFetchBufferCapacity
	}
	return &FetchBuffer{capacity: capacity}
}

// IsFull reports whether Fetch must stall until Decode drains an entry.
func (b *FetchBuffer) IsFull() bool {
	return len(b.entries) >= b.capacity
}

// IsEmpty reports whether there is nothing for Decode to drain.
func (b *FetchBuffer) IsEmpty() bool {
	return len(b.entries) == 0
}

// Len returns the number of buffered entries.
func (b *FetchBuffer) Len() int {
	return len(b.entries)
}

// Push enqueues a newly fetched instruction.
func (b *FetchBuffer) Push(e FetchBufferEntry) {
	b.entries = append(b.entries, e)
}

// Pop removes and returns the oldest buffered entry.
func (b *FetchBuffer) Pop() (FetchBufferEntry, bool) {
	if len(b.entries) == 0 {
		return FetchBufferEntry{}, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	return e, true
}

// Clear discards all buffered entries. The controller calls this on a
// branch misprediction: everything sitting here was fetched along the
// wrong speculative path.
func (b *FetchBuffer) Clear() {
	b.entries = nil
}
