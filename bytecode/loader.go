package bytecode

import (
	"encoding/binary"
	"fmt"
	"os"
)

// headerSize is the fixed-width portion of a PUNK file: magic(4) +
// version(2) + flags(2) + entry(8) + initialSP(8) + numSegments(2) +
// metadataLen(4).
const headerSize = 4 + 2 + 2 + 8 + 8 + 2 + 4

// Load parses a PunkVM bytecode image already read into memory. This is
// the entry point the engine's Load operation calls (spec.md section 6)
// — the loader/deserializer is in scope even though producing bytecode
// from source is not.
func Load(data []byte) (*Program, error) {
	if len(data) < headerSize {
		return nil, &LoadError{Offset: 0, Message: "file shorter than header"}
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, &LoadError{Offset: 0, Message: "bad magic: not a PUNK file"}
	}

	off := 4
	version := binary.LittleEndian.Uint16(data[off:])
	off += 2
	if version != Version {
		return nil, &LoadError{Offset: off, Message: fmt.Sprintf("unsupported version %d", version)}
	}

	_ = binary.LittleEndian.Uint16(data[off:]) // reserved flags
	off += 2

	entryPoint := binary.LittleEndian.Uint64(data[off:])
	off += 8
	initialSP := binary.LittleEndian.Uint64(data[off:])
	off += 8
	numSegments := binary.LittleEndian.Uint16(data[off:])
	off += 2
	metadataLen := binary.LittleEndian.Uint32(data[off:])
	off += 4

	prog := &Program{
		EntryPoint: entryPoint,
		InitialSP:  initialSP,
		Metadata:   map[string]string{},
	}

	metaEnd := off + int(metadataLen)
	if metaEnd > len(data) {
		return nil, &LoadError{Offset: off, Message: "metadata block runs past end of file"}
	}
	if err := parseMetadata(data[off:metaEnd], prog.Metadata, off); err != nil {
		return nil, err
	}
	off = metaEnd

	haveCode := false
	for i := 0; i < int(numSegments); i++ {
		seg, next, err := parseSegment(data, off)
		if err != nil {
			return nil, err
		}
		if seg.Flags&SegmentFlagExecute != 0 {
			if haveCode {
				return nil, &LoadError{Offset: off, Message: "more than one executable segment"}
			}
			haveCode = true
		}
		prog.Segments = append(prog.Segments, *seg)
		off = next
	}

	if !haveCode {
		return nil, &LoadError{Offset: off, Message: "no executable segment present"}
	}
	if err := checkDisjoint(prog); err != nil {
		return nil, err
	}

	return prog, nil
}

// LoadFile reads a PunkVM bytecode file from disk and parses it. The
// engine-facing API takes bytes directly (spec.md section 6); this is a
// thin convenience wrapper for callers that have a path, mirroring the
// teacher's loader.Load(path) signature.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bytecode file: %w", err)
	}
	return Load(data)
}

// parseMetadata reads a flat sequence of (keyLen u16, key, valLen u16,
// val) TLV entries filling the whole of block.
func parseMetadata(block []byte, out map[string]string, baseOffset int) error {
	pos := 0
	for pos < len(block) {
		if pos+2 > len(block) {
			return &LoadError{Offset: baseOffset + pos, Message: "truncated metadata key length"}
		}
		keyLen := int(binary.LittleEndian.Uint16(block[pos:]))
		pos += 2
		if pos+keyLen > len(block) {
			return &LoadError{Offset: baseOffset + pos, Message: "truncated metadata key"}
		}
		key := string(block[pos : pos+keyLen])
		pos += keyLen

		if pos+2 > len(block) {
			return &LoadError{Offset: baseOffset + pos, Message: "truncated metadata value length"}
		}
		valLen := int(binary.LittleEndian.Uint16(block[pos:]))
		pos += 2
		if pos+valLen > len(block) {
			return &LoadError{Offset: baseOffset + pos, Message: "truncated metadata value"}
		}
		out[key] = string(block[pos : pos+valLen])
		pos += valLen
	}
	return nil
}

// parseSegment reads one segment header (addr u64, fileSize u32,
// memSize u32, flags u32) followed by fileSize bytes of segment data,
// starting at off.
func parseSegment(data []byte, off int) (*Segment, int, error) {
	const segHeaderSize = 8 + 4 + 4 + 4
	if off+segHeaderSize > len(data) {
		return nil, 0, &LoadError{Offset: off, Message: "truncated segment header"}
	}
	addr := binary.LittleEndian.Uint64(data[off:])
	off += 8
	fileSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	memSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	flags := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if memSize < fileSize {
		return nil, 0, &LoadError{Offset: off, Message: "segment memSize smaller than fileSize"}
	}
	end := off + int(fileSize)
	if end > len(data) {
		return nil, 0, &LoadError{Offset: off, Message: "segment data runs past end of file"}
	}

	segData := make([]byte, fileSize)
	copy(segData, data[off:end])

	return &Segment{
		Addr:    addr,
		Data:    segData,
		MemSize: uint64(memSize),
		Flags:   SegmentFlags(flags),
	}, end, nil
}

// checkDisjoint enforces SPEC_FULL.md Open Question 1: code and data
// address ranges may never overlap.
func checkDisjoint(prog *Program) error {
	code := prog.CodeSegment()
	if code == nil {
		return nil
	}
	codeStart, codeEnd := code.Addr, code.Addr+code.MemSize
	for _, seg := range prog.DataSegments() {
		dataStart, dataEnd := seg.Addr, seg.Addr+seg.MemSize
		if dataStart < codeEnd && codeStart < dataEnd {
			return &LoadError{Message: fmt.Sprintf(
				"data segment [0x%x,0x%x) overlaps code segment [0x%x,0x%x)",
				dataStart, dataEnd, codeStart, codeEnd)}
		}
	}
	return nil
}
