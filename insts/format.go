package insts

import "fmt"

// OperandKind is a tagged variant over the operand shapes spec.md
// section 3/6 enumerates. Modeling it as an exhaustive enum (rather
// than an interface or raw byte) forces the decoder, hazard unit, and
// forwarding unit to be updated in lockstep whenever a new kind is
// added, per spec.md section 9.
type OperandKind uint8

const (
	KindNone       OperandKind = 0x0
	KindReg4       OperandKind = 0x1
	KindReg8       OperandKind = 0x2
	KindImm8       OperandKind = 0x3
	KindImm16      OperandKind = 0x4
	KindImm32      OperandKind = 0x5
	KindImm64      OperandKind = 0x6
	KindPCRel      OperandKind = 0x7
	KindAbsAddr    OperandKind = 0x8
	KindRegOffset  OperandKind = 0x9
)

// InvalidOperandKindError reports a format nibble in the reserved
// 0xA-0xF range. A valid kind that doesn't fit the opcode is reported
// as a DecodeError instead.
type InvalidOperandKindError struct {
	Kind OperandKind
	PC   uint64
}

func (e *InvalidOperandKindError) Error() string {
	return fmt.Sprintf("invalid operand kind 0x%x at PC=0x%x", uint8(e.Kind), e.PC)
}

// byteLen returns the number of argument bytes a given operand kind
// consumes. reg+offset packs a one-byte register field (high nibble)
// followed by a 16-bit signed displacement, per spec.md section 6.
func (k OperandKind) byteLen() (int, error) {
	switch k {
	case KindNone:
		return 0, nil
	case KindReg4, KindReg8:
		return 1, nil
	case KindImm8:
		return 1, nil
	case KindImm16:
		return 2, nil
	case KindImm32:
		return 4, nil
	case KindImm64:
		return 8, nil
	case KindPCRel:
		return 4, nil
	case KindAbsAddr:
		return 8, nil
	case KindRegOffset:
		return 3, nil
	default:
		return 0, &InvalidOperandKindError{Kind: k}
	}
}

// splitFormat decomposes a format byte into its two operand kinds: the
// high nibble is operand 1's kind, the low nibble is operand 2's kind.
func splitFormat(b byte) (OperandKind, OperandKind) {
	return OperandKind(b >> 4), OperandKind(b & 0x0F)
}
