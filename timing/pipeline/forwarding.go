package pipeline

import "github.com/punkvm/punkvm/emu"

// ForwardSource identifies which latch an EX operand's value should be
// read from, per spec.md section 4.6's priority list: EM before MW
// before the register file ("youngest producer wins").
type ForwardSource uint8

const (
	ForwardNone ForwardSource = iota
	ForwardFromEM
	ForwardFromMW
)

// ForwardDecision carries the resolved source for each of an
// instruction's two general-purpose operands.
type ForwardDecision struct {
	Rn ForwardSource
	Rm ForwardSource
}

// ForwardingUnit resolves EX's operand sources against the EM and MW
// latches. It also resolves the flags word the same way, since a
// flag-setting instruction's result is visible in EM/MW before it
// commits to the architectural status word at Writeback — a
// conditional branch one instruction behind a CMP needs that value
// forwarded exactly like a general register.
type ForwardingUnit struct{}

// NewForwardingUnit creates a new forwarding unit.
func NewForwardingUnit() *ForwardingUnit {
	return &ForwardingUnit{}
}

// Resolve decides, for the instruction sitting in the DE register, where
// each of its source operands should come from.
func (f *ForwardingUnit) Resolve(de *DERegister, em *EMRegister, mw *MWRegister) ForwardDecision {
	d := ForwardDecision{}
	if !de.Valid {
		return d
	}
	if de.Inst != nil && de.Inst.UsesRn() {
		d.Rn = f.resolveRegister(de.Rn, em, mw)
	}
	if de.Inst != nil && de.Inst.UsesRm() {
		d.Rm = f.resolveRegister(de.Rm, em, mw)
	}
	return d
}

// resolveRegister is also used directly by the Execute stage to forward
// the stack-pointer register for PUSH/POP, which have no Rn/Rm slot of
// their own in the decoded instruction.
func (f *ForwardingUnit) resolveRegister(reg uint8, em *EMRegister, mw *MWRegister) ForwardSource {
	// A pending load in EM cannot supply its value yet (its data only
	// exists once it reaches Memory); that case is the load-use hazard,
	// not a forwarding opportunity, so it is deliberately excluded here.
	if em.Valid && em.RegWrite && em.Rd == reg && !em.MemRead {
		return ForwardFromEM
	}
	if mw.Valid && mw.RegWrite && mw.Rd == reg {
		return ForwardFromMW
	}
	return ForwardNone
}

// ResolveRegister exposes resolveRegister for stages that need to
// forward a register outside the normal Rn/Rm slots (the stack
// pointer).
func (f *ForwardingUnit) ResolveRegister(reg uint8, em *EMRegister, mw *MWRegister) ForwardSource {
	return f.resolveRegister(reg, em, mw)
}

// Value returns the forwarded value for a resolved source, falling back
// to original (the value Decode read from the register file) when no
// forwarding applies.
func (f *ForwardingUnit) Value(src ForwardSource, original uint64, em *EMRegister, mw *MWRegister) uint64 {
	switch src {
	case ForwardFromEM:
		return em.ALUResult
	case ForwardFromMW:
		if mw.MemToReg {
			return mw.MemData
		}
		return mw.ALUResult
	default:
		return original
	}
}

// ResolveFlags returns the flags word EX should evaluate a condition
// against: the EM latch's flags if it just set them, else the MW
// latch's, else the architectural status word.
func (f *ForwardingUnit) ResolveFlags(current emu.Flags, em *EMRegister, mw *MWRegister) emu.Flags {
	if em.Valid && em.SetFlags {
		return em.Flags
	}
	if mw.Valid && mw.SetFlags {
		return mw.Flags
	}
	return current
}
