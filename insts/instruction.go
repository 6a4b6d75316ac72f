package insts

// Instruction is the decoded micro-op the pipeline carries from Decode
// onward. It bundles the uniform operand-kind/value pairs spec.md
// section 3 requires plus the convenience fields (Rd/Rn/Rm/Imm/Offset)
// the Execute stage actually consumes, the same split the teacher's
// insts.Instruction makes between raw encoding and decoded meaning.
type Instruction struct {
	Op     Op
	Format byte // raw format byte, kept for tracing/debugging

	Op1Kind OperandKind
	Op2Kind OperandKind

	// Rd is the destination register, valid when RegWrite is true.
	Rd uint8
	// Rn, Rm are source registers; RegOffset operands populate Rn and
	// leave Rm unused, register-pair operands (ADD Rd,Rn,Rm) populate
	// both.
	Rn uint8
	Rm uint8

	// Imm holds an immediate operand's raw bits (zero-extended).
	Imm uint64
	// Offset holds a reg+offset or pc-relative operand's signed
	// displacement.
	Offset int64

	// Control signals, computed once at decode time so later stages
	// never need to re-inspect Op.
	RegWrite  bool
	MemRead   bool
	MemWrite  bool
	SetFlags  bool
	IsBranch  bool
	IsCall    bool
	IsReturn  bool
	IsSyscall bool

	// EncodedLen is the number of bytes this instruction occupied in
	// the code segment; PC is the address it was fetched from.
	EncodedLen int
	PC         uint64
}

// MemSize returns the size in bytes of the memory access this
// instruction performs, or 0 if it is not a memory operation.
func (i *Instruction) MemSize() int {
	return i.Op.AccessSize()
}

// UsesRn reports whether this instruction reads Rn as a source operand,
// as opposed to Rn merely holding a zero-value left over from decode.
// The hazard and forwarding units need this to avoid treating an unused
// Rn==0 as a false dependency on R0.
func (i *Instruction) UsesRn() bool {
	switch i.Op1Kind {
	case KindReg4, KindReg8, KindRegOffset:
		return true
	}
	// RET's operand slot is KindNone; its Rn is force-set to LinkReg by
	// the decoder rather than coming from an operand byte, but it is
	// still a read of that register and must be forwarding-eligible.
	return i.Op == OpINC || i.Op == OpDEC || i.Op == OpRET
}

// UsesRm reports whether this instruction reads Rm as a source operand.
func (i *Instruction) UsesRm() bool {
	switch i.Op2Kind {
	case KindReg4, KindReg8:
		return true
	}
	return false
}
