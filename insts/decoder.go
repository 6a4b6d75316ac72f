package insts

import (
	"encoding/binary"
	"fmt"
)

// DecodeError reports a failure to decode a PunkVM instruction: an
// unknown opcode, an operand-kind combination the opcode doesn't
// accept, or a truncated instruction stream. Per spec.md section 4.10,
// any of these halts the engine with a Decode-Error.
type DecodeError struct {
	PC      uint64
	Opcode  Op
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at PC=0x%x (opcode 0x%x): %s", e.PC, uint8(e.Opcode), e.Message)
}

// descriptor is the static shape of one opcode: which operand kinds it
// accepts, whether it carries an explicit destination-register byte,
// and the control signals the pipeline derives from it. Keeping this
// table-driven (rather than a long switch per concern) is what lets
// Decode, the hazard unit, and the forwarding unit all agree on what an
// instruction does without duplicating the opcode list.
type descriptor struct {
	op1, op2 OperandKind

	hasRdByte bool // an explicit destination-register byte follows Size
	fixedRd   uint8
	useFixedRd bool

	rnFromRd bool // Rn defaults to Rd (INC/DEC read-modify-write)

	regWrite  bool
	memRead   bool
	memWrite  bool
	setFlags  bool
	isSyscall bool
}

var descriptors = map[Op]descriptor{
	OpADD:  {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpADDI: {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpSUB:  {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpSUBI: {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpMUL:  {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpMULI: {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpDIV:  {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpDIVI: {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpMOD:  {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpMODI: {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpINC:  {op1: KindNone, op2: KindNone, hasRdByte: true, regWrite: true, setFlags: true, rnFromRd: true},
	OpDEC:  {op1: KindNone, op2: KindNone, hasRdByte: true, regWrite: true, setFlags: true, rnFromRd: true},
	OpNEG:  {op1: KindReg4, op2: KindNone, hasRdByte: true, regWrite: true, setFlags: true},
	OpCMP:  {op1: KindReg4, op2: KindReg4, setFlags: true},
	OpCMPI: {op1: KindReg4, op2: KindImm32, setFlags: true},
	OpMOVI: {op1: KindImm64, op2: KindNone, hasRdByte: true, regWrite: true},
	OpMOVR: {op1: KindReg4, op2: KindNone, hasRdByte: true, regWrite: true},

	OpAND:   {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpANDI:  {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpOR:    {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpORI:   {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpXOR:   {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpXORI:  {op1: KindReg4, op2: KindImm32, hasRdByte: true, regWrite: true, setFlags: true},
	OpNOT:   {op1: KindReg4, op2: KindNone, hasRdByte: true, regWrite: true, setFlags: true},
	OpSHL:   {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpSHLI:  {op1: KindReg4, op2: KindImm8, hasRdByte: true, regWrite: true, setFlags: true},
	OpSHR:   {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpSHRI:  {op1: KindReg4, op2: KindImm8, hasRdByte: true, regWrite: true, setFlags: true},
	OpSAR:   {op1: KindReg4, op2: KindReg4, hasRdByte: true, regWrite: true, setFlags: true},
	OpSARI:  {op1: KindReg4, op2: KindImm8, hasRdByte: true, regWrite: true, setFlags: true},
	OpTEST:  {op1: KindReg4, op2: KindReg4, setFlags: true},
	OpTESTI: {op1: KindReg4, op2: KindImm32, setFlags: true},

	OpJMP:              {op1: KindPCRel, op2: KindNone},
	OpJMPIfZero:        {op1: KindReg4, op2: KindPCRel},
	OpJMPIfNotZero:     {op1: KindReg4, op2: KindPCRel},
	OpJMPIfCarry:       {op1: KindPCRel, op2: KindNone},
	OpJMPIfNotCarry:    {op1: KindPCRel, op2: KindNone},
	OpJMPIfNeg:         {op1: KindPCRel, op2: KindNone},
	OpJMPIfPos:         {op1: KindPCRel, op2: KindNone},
	OpJMPIfOverflow:    {op1: KindPCRel, op2: KindNone},
	OpJMPIfNotOverflow: {op1: KindPCRel, op2: KindNone},
	OpJMPGE:            {op1: KindPCRel, op2: KindNone},
	OpJMPLT:            {op1: KindPCRel, op2: KindNone},
	OpJMPGT:            {op1: KindPCRel, op2: KindNone},
	OpJMPLE:            {op1: KindPCRel, op2: KindNone},
	OpCALL:             {op1: KindPCRel, op2: KindNone, regWrite: true, useFixedRd: true, fixedRd: LinkReg},
	OpRET:              {op1: KindNone, op2: KindNone},
	OpJMPReg:           {op1: KindReg4, op2: KindNone},
	OpCALLReg:          {op1: KindReg4, op2: KindNone, regWrite: true, useFixedRd: true, fixedRd: LinkReg},

	OpLoad:     {op1: KindRegOffset, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpStore:    {op1: KindRegOffset, op2: KindReg4, memWrite: true},
	OpLoadB:    {op1: KindRegOffset, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpStoreB:   {op1: KindRegOffset, op2: KindReg4, memWrite: true},
	OpLoadH:    {op1: KindRegOffset, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpStoreH:   {op1: KindRegOffset, op2: KindReg4, memWrite: true},
	OpLoadW:    {op1: KindRegOffset, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpStoreW:   {op1: KindRegOffset, op2: KindReg4, memWrite: true},
	OpLoadAbs:  {op1: KindAbsAddr, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpStoreAbs: {op1: KindAbsAddr, op2: KindReg4, memWrite: true},
	OpPush:     {op1: KindReg4, op2: KindNone, memWrite: true},
	OpPop:      {op1: KindNone, op2: KindNone, hasRdByte: true, regWrite: true, memRead: true},
	OpLea:      {op1: KindRegOffset, op2: KindNone, hasRdByte: true, regWrite: true},

	OpNop:     {op1: KindNone, op2: KindNone},
	OpHalt:    {op1: KindNone, op2: KindNone},
	OpSyscall: {op1: KindNone, op2: KindNone, isSyscall: true},
	OpTrap:    {op1: KindNone, op2: KindNone},
	OpFence:   {op1: KindNone, op2: KindNone},
}

// Decoder decodes PunkVM bytecode into Instruction values.
type Decoder struct{}

// NewDecoder creates a stateless decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads one instruction from code starting at the given PC.
// code must contain at least the bytes of the instruction at pc (the
// caller is expected to have validated the code range via
// emu.Memory.CheckCodeRange once the declared size is known, but Decode
// also guards against running off the end of the supplied slice).
func (d *Decoder) Decode(code []byte, pc uint64) (*Instruction, error) {
	if len(code) < 3 {
		return nil, &DecodeError{PC: pc, Message: "truncated instruction: fewer than 3 header bytes"}
	}

	opcode := Op(code[0])
	formatByte := code[1]
	op1Kind, op2Kind := splitFormat(formatByte)

	sizeLen, total, err := decodeSize(code, pc)
	if err != nil {
		return nil, err
	}

	desc, ok := descriptors[opcode]
	if !ok {
		return nil, &DecodeError{PC: pc, Opcode: opcode, Message: "unknown opcode"}
	}
	if op1Kind != desc.op1 || op2Kind != desc.op2 {
		return nil, &DecodeError{PC: pc, Opcode: opcode, Message: "operand kind not valid for opcode"}
	}

	cursor := 2 + sizeLen
	inst := &Instruction{
		Op:         opcode,
		Format:     formatByte,
		Op1Kind:    op1Kind,
		Op2Kind:    op2Kind,
		RegWrite:   desc.regWrite,
		MemRead:    desc.memRead,
		MemWrite:   desc.memWrite,
		SetFlags:   desc.setFlags,
		IsBranch:   opcode.IsBranch(),
		IsCall:     opcode.IsCall(),
		IsReturn:   opcode.IsReturn(),
		IsSyscall:  desc.isSyscall,
		PC:         pc,
	}

	if desc.useFixedRd {
		inst.Rd = desc.fixedRd
	} else if desc.hasRdByte {
		if cursor >= len(code) {
			return nil, &DecodeError{PC: pc, Opcode: opcode, Message: "truncated instruction: missing Rd byte"}
		}
		inst.Rd = code[cursor] & 0x0F
		cursor++
	}

	if opcode == OpRET {
		inst.Rn = LinkReg
	}

	cursor, err = decodeOperand(code, cursor, op1Kind, true, inst, pc, opcode)
	if err != nil {
		return nil, err
	}
	cursor, err = decodeOperand(code, cursor, op2Kind, false, inst, pc, opcode)
	if err != nil {
		return nil, err
	}

	if desc.rnFromRd {
		inst.Rn = inst.Rd
	}

	if cursor != total {
		return nil, &DecodeError{PC: pc, Opcode: opcode, Message: "encoded length does not match bytes consumed"}
	}

	inst.EncodedLen = total
	return inst, nil
}

// decodeSize parses the Size field (one byte, or two if bit 7 of the
// first is set, per spec.md section 6) and returns how many bytes it
// occupied and the declared total instruction length.
func decodeSize(code []byte, pc uint64) (sizeLen int, total int, err error) {
	if len(code) < 3 {
		return 0, 0, &DecodeError{PC: pc, Message: "truncated instruction: missing size byte"}
	}
	b0 := code[2]
	if b0&0x80 == 0 {
		return 1, int(b0), nil
	}
	if len(code) < 4 {
		return 0, 0, &DecodeError{PC: pc, Message: "truncated instruction: missing extended size byte"}
	}
	b1 := code[3]
	return 2, int(b0&0x7F) | int(b1)<<7, nil
}

// decodeOperand reads one operand's argument bytes starting at cursor,
// populating the appropriate fields on inst, and returns the advanced
// cursor.
func decodeOperand(code []byte, cursor int, kind OperandKind, isFirst bool, inst *Instruction, pc uint64, opcode Op) (int, error) {
	n, err := kind.byteLen()
	if err != nil {
		return 0, &DecodeError{PC: pc, Opcode: opcode, Message: err.Error()}
	}
	if n == 0 {
		return cursor, nil
	}
	if cursor+n > len(code) {
		return 0, &DecodeError{PC: pc, Opcode: opcode, Message: "truncated instruction: missing operand bytes"}
	}
	arg := code[cursor : cursor+n]

	switch kind {
	case KindReg4, KindReg8:
		reg := arg[0] & 0x0F
		if isFirst {
			inst.Rn = reg
		} else {
			inst.Rm = reg
		}
	case KindImm8:
		setImm(inst, isFirst, opcode, uint64(arg[0]))
	case KindImm16:
		setImm(inst, isFirst, opcode, uint64(binary.LittleEndian.Uint16(arg)))
	case KindImm32:
		setImm(inst, isFirst, opcode, uint64(binary.LittleEndian.Uint32(arg)))
	case KindImm64:
		setImm(inst, isFirst, opcode, binary.LittleEndian.Uint64(arg))
	case KindPCRel:
		inst.Offset = int64(int32(binary.LittleEndian.Uint32(arg)))
	case KindAbsAddr:
		inst.Imm = binary.LittleEndian.Uint64(arg)
	case KindRegOffset:
		inst.Rn = (arg[0] >> 4) & 0x0F
		inst.Offset = int64(int16(binary.LittleEndian.Uint16(arg[1:3])))
	}

	return cursor + n, nil
}

// setImm records an immediate value. For compare/test opcodes it is the
// second operand (the thing being compared against); elsewhere it's
// simply stored as Imm regardless of position since no opcode in this
// ISA takes two immediate operands.
func setImm(inst *Instruction, isFirst bool, opcode Op, v uint64) {
	_ = isFirst
	_ = opcode
	inst.Imm = v
}
