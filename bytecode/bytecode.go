// Package bytecode parses PunkVM's on-disk "PUNK" program format into a
// Program ready for an engine to load. It owns only the loader side of
// the format; producing bytecode from source is out of scope (spec.md
// section 1 places the compiler and the on-disk serializer outside the
// simulator core — this package is the deserializer half of that
// boundary).
package bytecode

import "fmt"

// Magic is the four-byte signature every PunkVM program file begins
// with.
var Magic = [4]byte{'P', 'U', 'N', 'K'}

// Version is the wire-format version this loader understands.
const Version = 1

// SegmentFlags mirrors a segment's protection intent. PunkVM enforces
// code/data disjointness (SPEC_FULL.md Open Question 1) rather than
// page-level permission bits, but the flags are still recorded for
// diagnostics and for the loader's own disjointness check.
type SegmentFlags uint32

const (
	SegmentFlagExecute SegmentFlags = 1 << iota
	SegmentFlagWrite
	SegmentFlagRead
)

// Segment is one loadable region of a PunkVM program: either the single
// code segment or one of possibly several data segments.
type Segment struct {
	Addr    uint64
	Data    []byte
	MemSize uint64 // may exceed len(Data); the remainder is zero-filled (BSS)
	Flags   SegmentFlags
}

// Program is a fully parsed PunkVM bytecode file, ready to be copied
// into an engine's memory image.
type Program struct {
	EntryPoint uint64
	Segments   []Segment
	InitialSP  uint64
	Metadata   map[string]string
}

// LoadError reports a malformed or unsupported program file. Decode
// errors that occur while fetching an individual instruction during
// execution are insts.DecodeError, not LoadError; LoadError is strictly
// about the container format.
type LoadError struct {
	Offset  int
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("bytecode load error at offset %d: %s", e.Offset, e.Message)
}

// CodeSegment returns the program's single executable segment, or nil
// if none was declared.
func (p *Program) CodeSegment() *Segment {
	for i := range p.Segments {
		if p.Segments[i].Flags&SegmentFlagExecute != 0 {
			return &p.Segments[i]
		}
	}
	return nil
}

// DataSegments returns the program's non-executable segments, in file
// order.
func (p *Program) DataSegments() []Segment {
	var out []Segment
	for _, seg := range p.Segments {
		if seg.Flags&SegmentFlagExecute == 0 {
			out = append(out, seg)
		}
	}
	return out
}
