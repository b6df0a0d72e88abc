// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

// Package wat renders version-0xc wasm bytecode as WAT-style text. The
// dump command uses it to show each function body instruction by
// instruction next to the decoded tables.
package wat

import (
	"fmt"
	"strings"

	"github.com/shiqicao/warpy/internal/wasm"
)

// Instruction represents a single decoded instruction.
type Instruction struct {
	// Offset is the byte offset of this instruction within the module.
	Offset int
	// Opcode is the raw opcode byte.
	Opcode byte
	// Mnemonic is the WAT mnemonic (e.g. "i32.add", "call").
	Mnemonic string
	// Operands is the human-readable operand string, if any.
	Operands string
}

// String formats the instruction in WAT style.
func (inst *Instruction) String() string {
	if inst.Operands != "" {
		return fmt.Sprintf("%s %s", inst.Mnemonic, inst.Operands)
	}
	return inst.Mnemonic
}

// Listing renders a decoded instruction range with offsets and nesting
// indentation.
func Listing(instructions []Instruction) string {
	var b strings.Builder
	depth := 0
	for _, inst := range instructions {
		switch inst.Opcode {
		case 0x04, 0x0f: // else, end
			if depth > 0 {
				depth--
			}
		}
		b.WriteString(fmt.Sprintf("  0x%04x: %s%s\n", inst.Offset, strings.Repeat("  ", depth), inst.String()))
		switch inst.Opcode {
		case 0x01, 0x02, 0x03, 0x04: // block, loop, if, else
			depth++
		}
	}
	return b.String()
}

// Disassemble decodes the instructions of one function body range
// [start, end] of the module bytes, including the terminating end.
func Disassemble(data []byte, start, end int) ([]Instruction, error) {
	rdr := wasm.NewReader(data)
	rdr.Pos = start

	var out []Instruction
	for rdr.Pos <= end {
		offset := rdr.Pos
		opcode, err := rdr.ReadByte()
		if err != nil {
			return nil, err
		}
		mnemonic := wasm.OpName(opcode)
		if mnemonic == "" {
			mnemonic = fmt.Sprintf("unknown_0x%02x", opcode)
		}
		operands, err := readOperands(rdr, opcode)
		if err != nil {
			return nil, err
		}
		out = append(out, Instruction{
			Offset:   offset,
			Opcode:   opcode,
			Mnemonic: mnemonic,
			Operands: operands,
		})
	}
	return out, nil
}

// readOperands consumes and formats the immediates of opcode.
func readOperands(rdr *wasm.Reader, opcode byte) (string, error) {
	switch opcode {
	case 0x01, 0x02, 0x03: // block, loop, if
		sig, err := rdr.ReadByte()
		if err != nil {
			return "", err
		}
		return blockSig(sig), nil
	case 0x06, 0x07: // br, br_if
		depth, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", depth), nil
	case 0x08: // br_table
		count, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		targets := make([]string, 0, count+1)
		for i := int64(0); i <= count; i++ {
			t, err := rdr.ReadLEB(32, false)
			if err != nil {
				return "", err
			}
			targets = append(targets, fmt.Sprintf("%d", t))
		}
		return strings.Join(targets, " "), nil
	case 0x10: // i32.const
		v, err := rdr.ReadLEB(32, true)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", v), nil
	case 0x11: // i64.const
		v, err := rdr.ReadLEB(64, true)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", v), nil
	case 0x12: // f64.const
		f, err := rdr.ReadF64()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%g", f), nil
	case 0x13: // f32.const
		f, err := rdr.ReadF32()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%g", f), nil
	case 0x14, 0x15, 0x19: // get_local, set_local, tee_local
		n, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", n), nil
	case 0x16, 0x17: // call, call_indirect
		n, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("$func%d", n), nil
	case 0xbb, 0xbc: // get_global, set_global
		n, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", n), nil
	}
	if opcode >= 0x20 && opcode <= 0x36 { // memory immediates
		flags, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		offset, err := rdr.ReadLEB(32, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("offset=%d align=%d", offset, flags), nil
	}
	return "", nil
}

func blockSig(sig byte) string {
	switch sig {
	case 0x00:
		return ""
	case 0x01:
		return "(result i32)"
	case 0x02:
		return "(result i64)"
	case 0x03:
		return "(result f32)"
	case 0x04:
		return "(result f64)"
	}
	return fmt.Sprintf("(sig 0x%02x)", sig)
}
