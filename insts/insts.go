// Package insts provides PunkVM instruction definitions and decoding.
//
// PunkVM's bytecode is variable-length: an opcode byte, a format byte
// (operand-kind nibbles), a size byte or two, and little-endian
// argument bytes (spec.md section 6). This package decodes that stream
// into a uniform Instruction value the pipeline's Decode stage consumes.
package insts
