package emu

import "fmt"

// MinMemorySize is the smallest memory image the engine accepts, per
// spec.md section 2 ("Main memory: Flat byte-addressable store
// (>=1 MiB)").
const MinMemorySize = 1 << 20 // 1 MiB

// OutOfBoundsError reports an access outside the declared code or data
// range. The pipeline's Memory stage turns this into a MemoryFault and
// the Fetch stage turns a code-range violation into a ControlFault.
type OutOfBoundsError struct {
	Addr    uint64
	Size    int
	Region  string // "code" or "data"
	ImgSize uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s access out of bounds: addr=0x%x size=%d (image size 0x%x)",
		e.Region, e.Addr, e.Size, e.ImgSize)
}

// Memory is the flat byte-addressable store backing a PunkVM engine
// instance. Code and data occupy disjoint ranges established by the
// loader (spec.md section 3, "Memory image"); CodeEnd marks the
// boundary. Instruction fetch must stay within [0, CodeEnd); loads and
// stores must stay within [CodeEnd, len(bytes)).
type Memory struct {
	bytes   []byte
	codeEnd uint64
}

// NewMemory creates a memory image of the given size (rounded up to
// MinMemorySize) with the code range ending at codeEnd.
func NewMemory(size int, codeEnd uint64) *Memory {
	if size < MinMemorySize {
		size = MinMemorySize
	}
	return &Memory{
		bytes:   make([]byte, size),
		codeEnd: codeEnd,
	}
}

// Size returns the total size of the memory image in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.bytes))
}

// CodeEnd returns the first address past the code range.
func (m *Memory) CodeEnd() uint64 {
	return m.codeEnd
}

// LoadCode copies code bytes starting at address 0.
func (m *Memory) LoadCode(code []byte) {
	copy(m.bytes, code)
}

// LoadData copies data bytes starting at the given address (normally
// m.codeEnd).
func (m *Memory) LoadData(addr uint64, data []byte) {
	copy(m.bytes[addr:], data)
}

// CheckCodeRange validates that [addr, addr+size) lies within the code
// range, returning a ControlFault-worthy error otherwise.
func (m *Memory) CheckCodeRange(addr uint64, size int) error {
	if addr+uint64(size) > m.codeEnd || addr+uint64(size) < addr {
		return &OutOfBoundsError{Addr: addr, Size: size, Region: "code", ImgSize: m.codeEnd}
	}
	return nil
}

// CheckDataRange validates that [addr, addr+size) lies within the data
// range (i.e. at or past CodeEnd and within the image).
func (m *Memory) CheckDataRange(addr uint64, size int) error {
	if addr < m.codeEnd {
		return &OutOfBoundsError{Addr: addr, Size: size, Region: "data", ImgSize: m.Size()}
	}
	end := addr + uint64(size)
	if end > m.Size() || end < addr {
		return &OutOfBoundsError{Addr: addr, Size: size, Region: "data", ImgSize: m.Size()}
	}
	return nil
}

// FetchWord reads raw instruction bytes for decode. It does not bounds
// check beyond what's needed to avoid a panic; callers must have
// already validated the code range via CheckCodeRange for the
// instruction's declared length once known.
func (m *Memory) FetchWord(addr uint64, maxLen int) []byte {
	end := addr + uint64(maxLen)
	if end > uint64(len(m.bytes)) {
		end = uint64(len(m.bytes))
	}
	if addr >= uint64(len(m.bytes)) {
		return nil
	}
	return m.bytes[addr:end]
}

// Read8 reads a single byte. Out-of-range addresses read as 0.
func (m *Memory) Read8(addr uint64) uint8 {
	if addr >= uint64(len(m.bytes)) {
		return 0
	}
	return m.bytes[addr]
}

// Write8 writes a single byte. Out-of-range addresses are ignored.
func (m *Memory) Write8(addr uint64, v uint8) {
	if addr >= uint64(len(m.bytes)) {
		return
	}
	m.bytes[addr] = v
}

// Read16 reads a little-endian 16-bit value.
func (m *Memory) Read16(addr uint64) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

// Write16 writes a little-endian 16-bit value.
func (m *Memory) Write16(addr uint64, v uint16) {
	m.Write8(addr, uint8(v))
	m.Write8(addr+1, uint8(v>>8))
}

// Read32 reads a little-endian 32-bit value.
func (m *Memory) Read32(addr uint64) uint32 {
	var result uint32
	for i := 0; i < 4; i++ {
		result |= uint32(m.Read8(addr+uint64(i))) << (8 * i)
	}
	return result
}

// Write32 writes a little-endian 32-bit value.
func (m *Memory) Write32(addr uint64, v uint32) {
	for i := 0; i < 4; i++ {
		m.Write8(addr+uint64(i), uint8(v>>(8*i)))
	}
}

// Read64 reads a little-endian 64-bit value.
func (m *Memory) Read64(addr uint64) uint64 {
	var result uint64
	for i := 0; i < 8; i++ {
		result |= uint64(m.Read8(addr+uint64(i))) << (8 * i)
	}
	return result
}

// Write64 writes a little-endian 64-bit value.
func (m *Memory) Write64(addr uint64, v uint64) {
	for i := 0; i < 8; i++ {
		m.Write8(addr+uint64(i), uint8(v>>(8*i)))
	}
}

// ReadSized reads a value of the given byte size (1, 2, 4, or 8).
func (m *Memory) ReadSized(addr uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(m.Read8(addr))
	case 2:
		return uint64(m.Read16(addr))
	case 4:
		return uint64(m.Read32(addr))
	default:
		return m.Read64(addr)
	}
}

// WriteSized writes the low `size` bytes of v (1, 2, 4, or 8).
func (m *Memory) WriteSized(addr uint64, size int, v uint64) {
	switch size {
	case 1:
		m.Write8(addr, uint8(v))
	case 2:
		m.Write16(addr, uint16(v))
	case 4:
		m.Write32(addr, uint32(v))
	default:
		m.Write64(addr, v)
	}
}
