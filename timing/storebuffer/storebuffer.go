// Package storebuffer implements the FIFO of pending stores sitting
// between the pipeline's Memory stage and the L1 cache, including
// store-to-load forwarding (spec.md sections 3 and 4.8).
package storebuffer

// DefaultCapacity bounds how many pending stores may be in flight
// before the Memory stage must stall issuing a new store (a structural
// hazard, spec.md section 4.5).
const DefaultCapacity = 4

// Entry is one pending store: the address and size it targets, the
// value to be written (held in the low `Size` bytes, little-endian),
// and an FIFO-ordering age.
type Entry struct {
	Addr  uint64
	Size  int
	Value uint64
	Age   uint64
}

// QueryResult is the outcome of probing the store buffer for a load.
type QueryResult struct {
	// Forward is true when a single pending store fully covers the
	// load's address range; Value then holds the forwarded bytes.
	Forward bool
	Value   uint64
	// Stall is true when a pending store partially overlaps the load's
	// range — not enough to forward, but enough that consulting the
	// cache now could read stale bytes. The Memory stage must wait for
	// the overlapping store to drain.
	Stall bool
}

// StoreBuffer is a FIFO queue of pending stores. Entries drain to the
// L1 cache in program order, at most one per cycle; the Memory stage
// drains one whenever its cache port is otherwise idle and while a load
// stalls on a partial overlap.
type StoreBuffer struct {
	entries  []Entry
	capacity int
	nextAge  uint64
	forwards uint64
}

// New creates a store buffer with the given capacity.
func New(capacity int) *StoreBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &StoreBuffer{capacity: capacity}
}

// Len returns the number of pending stores.
func (sb *StoreBuffer) Len() int {
	return len(sb.entries)
}

// IsFull reports whether the buffer has reached capacity; the Memory
// stage must stall a new store until a slot drains.
func (sb *StoreBuffer) IsFull() bool {
	return len(sb.entries) >= sb.capacity
}

// Push enqueues a new pending store.
func (sb *StoreBuffer) Push(addr uint64, size int, value uint64) {
	sb.entries = append(sb.entries, Entry{Addr: addr, Size: size, Value: value, Age: sb.nextAge})
	sb.nextAge++
}

// Query probes the buffer for a load at [addr, addr+size), searching
// from the youngest entry to the oldest (spec.md section 4.5: "a load
// whose address overlaps a pending store must observe the most recent
// store's data"). A load with no overlapping entry should fall through
// to the cache.
func (sb *StoreBuffer) Query(addr uint64, size int) QueryResult {
	for i := len(sb.entries) - 1; i >= 0; i-- {
		e := sb.entries[i]
		if !rangesOverlap(e.Addr, e.Size, addr, size) {
			continue
		}
		if contains(e.Addr, e.Size, addr, size) {
			sb.forwards++
			return QueryResult{Forward: true, Value: extractBytes(e.Addr, e.Value, addr, size)}
		}
		return QueryResult{Stall: true}
	}
	return QueryResult{}
}

// Drain removes and returns the oldest pending store, ready for the
// caller to write into the cache. It reports false if the buffer is
// empty.
func (sb *StoreBuffer) Drain() (Entry, bool) {
	if len(sb.entries) == 0 {
		return Entry{}, false
	}
	e := sb.entries[0]
	sb.entries = sb.entries[1:]
	return e, true
}

// Forwards returns the number of store-to-load forwards served, for
// spec.md section 7's metrics output.
func (sb *StoreBuffer) Forwards() uint64 {
	return sb.forwards
}

// Reset empties the buffer and clears its statistics.
func (sb *StoreBuffer) Reset() {
	sb.entries = nil
	sb.nextAge = 0
	sb.forwards = 0
}

func rangesOverlap(aAddr uint64, aSize int, bAddr uint64, bSize int) bool {
	aEnd := aAddr + uint64(aSize)
	bEnd := bAddr + uint64(bSize)
	return aAddr < bEnd && bAddr < aEnd
}

// contains reports whether the store range [storeAddr, storeAddr+size)
// fully covers the load range [loadAddr, loadAddr+loadSize).
func contains(storeAddr uint64, storeSize int, loadAddr uint64, loadSize int) bool {
	storeEnd := storeAddr + uint64(storeSize)
	loadEnd := loadAddr + uint64(loadSize)
	return storeAddr <= loadAddr && loadEnd <= storeEnd
}

// extractBytes pulls the loadSize bytes starting at loadAddr out of a
// store's little-endian value, given the store started at storeAddr.
func extractBytes(storeAddr uint64, storeValue uint64, loadAddr uint64, loadSize int) uint64 {
	shift := (loadAddr - storeAddr) * 8
	var mask uint64
	if loadSize >= 8 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << (uint(loadSize) * 8)) - 1
	}
	return (storeValue >> shift) & mask
}
