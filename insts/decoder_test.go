package insts_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/punkvm/punkvm/insts"
)

func reg4(r uint8) byte { return r & 0x0F }

func encodeHeader(op insts.Op, format byte, argBytes int, rdByte bool) []byte {
	size := 2 + 1 + argBytes
	if rdByte {
		size++
	}
	return []byte{byte(op), format, byte(size)}
}

var _ = Describe("Decoder", func() {
	var d *insts.Decoder

	BeforeEach(func() {
		d = insts.NewDecoder()
	})

	It("decodes ADD Rd,Rn,Rm", func() {
		format := byte(uint8(insts.KindReg4)<<4 | uint8(insts.KindReg4))
		code := encodeHeader(insts.OpADD, format, 2, true)
		code = append(code, reg4(3), reg4(1), reg4(2))

		inst, err := d.Decode(code, 0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Op).To(Equal(insts.OpADD))
		Expect(inst.Rd).To(Equal(uint8(3)))
		Expect(inst.Rn).To(Equal(uint8(1)))
		Expect(inst.Rm).To(Equal(uint8(2)))
		Expect(inst.RegWrite).To(BeTrue())
		Expect(inst.SetFlags).To(BeTrue())
		Expect(inst.EncodedLen).To(Equal(len(code)))
	})

	It("decodes ADDI Rd,Rn,imm32", func() {
		format := byte(uint8(insts.KindReg4)<<4 | uint8(insts.KindImm32))
		code := encodeHeader(insts.OpADDI, format, 1+4, true)
		imm := make([]byte, 4)
		binary.LittleEndian.PutUint32(imm, 42)
		code = append(code, reg4(0), reg4(1))
		code = append(code, imm...)

		inst, err := d.Decode(code, 0x2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rd).To(Equal(uint8(0)))
		Expect(inst.Rn).To(Equal(uint8(1)))
		Expect(inst.Imm).To(Equal(uint64(42)))
	})

	It("decodes MOVI Rd,imm64", func() {
		format := byte(uint8(insts.KindImm64)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpMOVI, format, 8, true)
		imm := make([]byte, 8)
		binary.LittleEndian.PutUint64(imm, 0xDEADBEEF)
		code = append(code, reg4(5))
		code = append(code, imm...)

		inst, err := d.Decode(code, 0x3000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rd).To(Equal(uint8(5)))
		Expect(inst.Imm).To(Equal(uint64(0xDEADBEEF)))
		Expect(inst.SetFlags).To(BeFalse())
	})

	It("decodes a backward JMP with a negative pc-relative offset", func() {
		format := byte(uint8(insts.KindPCRel)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpJMP, format, 4, false)
		off := make([]byte, 4)
		binary.LittleEndian.PutUint32(off, uint32(int32(-12)))
		code = append(code, off...)

		inst, err := d.Decode(code, 0x4000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.IsBranch).To(BeTrue())
		Expect(inst.Offset).To(Equal(int64(-12)))
	})

	It("decodes JMP_IF_NOT_ZERO Rn,label per the literal register+pc-rel form", func() {
		format := byte(uint8(insts.KindReg4)<<4 | uint8(insts.KindPCRel))
		code := encodeHeader(insts.OpJMPIfNotZero, format, 1+4, false)
		off := make([]byte, 4)
		binary.LittleEndian.PutUint32(off, 8)
		code = append(code, reg4(4))
		code = append(code, off...)

		inst, err := d.Decode(code, 0x5000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rn).To(Equal(uint8(4)))
		Expect(inst.Offset).To(Equal(int64(8)))
	})

	It("decodes CALL with an implicit link-register write", func() {
		format := byte(uint8(insts.KindPCRel)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpCALL, format, 4, false)
		off := make([]byte, 4)
		binary.LittleEndian.PutUint32(off, 100)
		code = append(code, off...)

		inst, err := d.Decode(code, 0x6000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.IsCall).To(BeTrue())
		Expect(inst.RegWrite).To(BeTrue())
		Expect(inst.Rd).To(Equal(insts.LinkReg))
	})

	It("decodes RET with an implicit link-register read", func() {
		format := byte(uint8(insts.KindNone)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpRET, format, 0, false)

		inst, err := d.Decode(code, 0x7000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.IsReturn).To(BeTrue())
		Expect(inst.Rn).To(Equal(insts.LinkReg))
	})

	It("decodes LOAD Rd,[Rn+off] with a signed 16-bit displacement", func() {
		format := byte(uint8(insts.KindRegOffset)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpLoad, format, 3, true)
		off := make([]byte, 2)
		binary.LittleEndian.PutUint16(off, uint16(int16(-4)))
		code = append(code, reg4(0))
		code = append(code, byte(2)<<4)
		code = append(code, off...)

		inst, err := d.Decode(code, 0x8000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rd).To(Equal(uint8(0)))
		Expect(inst.Rn).To(Equal(uint8(2)))
		Expect(inst.Offset).To(Equal(int64(-4)))
		Expect(inst.MemRead).To(BeTrue())
	})

	It("decodes STORE [Rn+off],Rs", func() {
		format := byte(uint8(insts.KindRegOffset)<<4 | uint8(insts.KindReg4))
		code := encodeHeader(insts.OpStore, format, 3+1, false)
		off := make([]byte, 2)
		binary.LittleEndian.PutUint16(off, 0)
		code = append(code, byte(1)<<4)
		code = append(code, off...)
		code = append(code, reg4(3))

		inst, err := d.Decode(code, 0x9000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rn).To(Equal(uint8(1)))
		Expect(inst.Rm).To(Equal(uint8(3)))
		Expect(inst.MemWrite).To(BeTrue())
	})

	It("decodes INC Rd with Rn implied equal to Rd", func() {
		format := byte(uint8(insts.KindNone)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpINC, format, 0, true)
		code = append(code, reg4(6))

		inst, err := d.Decode(code, 0xA000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Rd).To(Equal(uint8(6)))
		Expect(inst.Rn).To(Equal(uint8(6)))
	})

	It("decodes HALT and SYSCALL with no operands", func() {
		format := byte(0)
		code := encodeHeader(insts.OpHalt, format, 0, false)
		inst, err := d.Decode(code, 0xB000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Op).To(Equal(insts.OpHalt))

		code = encodeHeader(insts.OpSyscall, format, 0, false)
		inst, err = d.Decode(code, 0xB010)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.IsSyscall).To(BeTrue())
	})

	It("rejects an unknown opcode", func() {
		code := []byte{0x1A, 0x00, 0x03}
		_, err := d.Decode(code, 0xC000)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown opcode"))
	})

	It("rejects an opcode in the reserved extension range", func() {
		code := []byte{0xF0, 0x00, 0x03}
		_, err := d.Decode(code, 0xC010)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an operand-kind combination the opcode doesn't accept", func() {
		format := byte(uint8(insts.KindImm64)<<4 | uint8(insts.KindNone))
		code := encodeHeader(insts.OpADD, format, 8, true)
		code = append(code, reg4(0))
		code = append(code, make([]byte, 8)...)

		_, err := d.Decode(code, 0xD000)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("operand kind"))
	})

	It("rejects a declared size that doesn't match bytes consumed", func() {
		format := byte(uint8(insts.KindReg4)<<4 | uint8(insts.KindReg4))
		code := []byte{byte(insts.OpADD), format, 9, reg4(0), reg4(1), reg4(2)}

		_, err := d.Decode(code, 0xE000)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("encoded length"))
	})

	It("decodes a two-byte extended size field", func() {
		format := byte(uint8(insts.KindImm64)<<4 | uint8(insts.KindNone))
		payload := 1 + 8
		total := 2 + 2 + payload
		b0 := byte(total&0x7F) | 0x80
		b1 := byte(total >> 7)
		code := []byte{byte(insts.OpMOVI), format, b0, b1, reg4(0)}
		code = append(code, make([]byte, 8)...)

		inst, err := d.Decode(code, 0xF000)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.EncodedLen).To(Equal(total))
	})
})
