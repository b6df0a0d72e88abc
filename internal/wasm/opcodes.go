// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import "github.com/shiqicao/warpy/internal/errors"

// Opcode numbers for the version-0xc encoding. Only the ones the engine
// and pre-pass inspect by name are listed; the full set lives in opTable.
const (
	opUnreachable = 0x00
	opBlock       = 0x01
	opLoop        = 0x02
	opIf          = 0x03
	opElse        = 0x04
	opSelect      = 0x05
	opBr          = 0x06
	opBrIf        = 0x07
	opBrTable     = 0x08
	opReturn      = 0x09
	opNop         = 0x0a
	opDrop        = 0x0b
	opEnd         = 0x0f

	opI32Const = 0x10
	opI64Const = 0x11
	opF64Const = 0x12
	opF32Const = 0x13
	opGetLocal = 0x14
	opSetLocal = 0x15
	opCall     = 0x16
	opCallInd  = 0x17
	opTeeLocal = 0x19

	opGetGlobal = 0xbb
	opSetGlobal = 0xbc

	opGrowMemory    = 0x39
	opCurrentMemory = 0x3b

	opI32Add = 0x40
	opI32Sub = 0x41
	opI32Mul = 0x42
	opI32Eq  = 0x4d
	opI32Ne  = 0x4e
	opI32LtS = 0x4f

	opI64Add  = 0x5b
	opI64Sub  = 0x5c
	opI64Mul  = 0x5d
	opI64DivS = 0x5e
	opI64GtS  = 0x6e

	opI64ExtendSI32  = 0xa6
	opF64ConvertSI64 = 0xb0
)

// immKind classifies an opcode's immediate bytes so a single routine can
// skip them during the pre-pass scans.
type immKind uint8

const (
	immNone      immKind = iota
	immBlockSig          // 1-byte inline signature
	immVaruint32         // LEB32
	immVarint32          // signed LEB32
	immVarint64          // signed LEB64
	immUint32            // 4 raw bytes
	immUint64            // 8 raw bytes
	immMemory            // flags LEB32 + offset LEB32
	immBrTable           // count LEB32, count targets, default
)

type opInfo struct {
	name string
	imm  immKind
}

// opTable is the dense operator table for version 0xc: opcode byte to name
// and immediate layout. A nil name means the byte is not a valid opcode.
var opTable [256]opInfo

func init() {
	set := func(op byte, name string, imm immKind) {
		opTable[op] = opInfo{name: name, imm: imm}
	}

	// Control flow
	set(0x00, "unreachable", immNone)
	set(0x01, "block", immBlockSig)
	set(0x02, "loop", immBlockSig)
	set(0x03, "if", immBlockSig)
	set(0x04, "else", immNone)
	set(0x05, "select", immNone)
	set(0x06, "br", immVaruint32)
	set(0x07, "br_if", immVaruint32)
	set(0x08, "br_table", immBrTable)
	set(0x09, "return", immNone)
	set(0x0a, "nop", immNone)
	set(0x0b, "drop", immNone)
	set(0x0f, "end", immNone)

	// Basic operators
	set(0x10, "i32.const", immVarint32)
	set(0x11, "i64.const", immVarint64)
	set(0x12, "f64.const", immUint64)
	set(0x13, "f32.const", immUint32)
	set(0x14, "get_local", immVaruint32)
	set(0x15, "set_local", immVaruint32)
	set(0x16, "call", immVaruint32)
	set(0x17, "call_indirect", immVaruint32)
	set(0x19, "tee_local", immVaruint32)
	set(0xbb, "get_global", immVaruint32)
	set(0xbc, "set_global", immVaruint32)

	// Memory-related operators
	memOps := []struct {
		op   byte
		name string
	}{
		{0x20, "i32.load8_s"}, {0x21, "i32.load8_u"},
		{0x22, "i32.load16_s"}, {0x23, "i32.load16_u"},
		{0x24, "i64.load8_s"}, {0x25, "i64.load8_u"},
		{0x26, "i64.load16_s"}, {0x27, "i64.load16_u"},
		{0x28, "i64.load32_s"}, {0x29, "i64.load32_u"},
		{0x2a, "i32.load"}, {0x2b, "i64.load"},
		{0x2c, "f32.load"}, {0x2d, "f64.load"},
		{0x2e, "i32.store8"}, {0x2f, "i32.store16"},
		{0x30, "i64.store8"}, {0x31, "i64.store16"},
		{0x32, "i64.store32"}, {0x33, "i32.store"},
		{0x34, "i64.store"}, {0x35, "f32.store"},
		{0x36, "f64.store"},
	}
	for _, m := range memOps {
		set(m.op, m.name, immMemory)
	}
	set(0x39, "grow_memory", immNone)
	set(0x3b, "current_memory", immNone)

	// Simple operators, i32 then i64
	simple := map[byte]string{
		0x40: "i32.add", 0x41: "i32.sub", 0x42: "i32.mul",
		0x43: "i32.div_s", 0x44: "i32.div_u", 0x45: "i32.rem_s",
		0x46: "i32.rem_u", 0x47: "i32.and", 0x48: "i32.or",
		0x49: "i32.xor", 0x4a: "i32.shl", 0x4b: "i32.shr_u",
		0x4c: "i32.shr_s", 0x4d: "i32.eq", 0x4e: "i32.ne",
		0x4f: "i32.lt_s", 0x50: "i32.le_s", 0x51: "i32.lt_u",
		0x52: "i32.le_u", 0x53: "i32.gt_s", 0x54: "i32.ge_s",
		0x55: "i32.gt_u", 0x56: "i32.ge_u", 0x57: "i32.clz",
		0x58: "i32.ctz", 0x59: "i32.popcnt", 0x5a: "i32.eqz",
		0x5b: "i64.add", 0x5c: "i64.sub", 0x5d: "i64.mul",
		0x5e: "i64.div_s", 0x5f: "i64.div_u", 0x60: "i64.rem_s",
		0x61: "i64.rem_u", 0x62: "i64.and", 0x63: "i64.or",
		0x64: "i64.xor", 0x65: "i64.shl", 0x66: "i64.shr_u",
		0x67: "i64.shr_s", 0x68: "i64.eq", 0x69: "i64.ne",
		0x6a: "i64.lt_s", 0x6b: "i64.le_s", 0x6c: "i64.lt_u",
		0x6d: "i64.le_u", 0x6e: "i64.gt_s", 0x6f: "i64.ge_s",
		0x70: "i64.gt_u", 0x71: "i64.ge_u", 0x72: "i64.clz",
		0x73: "i64.ctz", 0x74: "i64.popcnt",
		0xb6: "i32.rotr", 0xb7: "i32.rotl",
		0xb8: "i64.rotr", 0xb9: "i64.rotl", 0xba: "i64.eqz",
	}
	for op, name := range simple {
		set(op, name, immNone)
	}

	// f32/f64 operators
	floats := map[byte]string{
		0x75: "f32.add", 0x76: "f32.sub", 0x77: "f32.mul",
		0x78: "f32.div", 0x79: "f32.min", 0x7a: "f32.max",
		0x7b: "f32.abs", 0x7c: "f32.neg", 0x7d: "f32.copysign",
		0x7e: "f32.ceil", 0x7f: "f32.floor", 0x80: "f32.trunc",
		0x81: "f32.nearest", 0x82: "f32.sqrt", 0x83: "f32.eq",
		0x84: "f32.ne", 0x85: "f32.lt", 0x86: "f32.le",
		0x87: "f32.gt", 0x88: "f32.ge",
		0x89: "f64.add", 0x8a: "f64.sub", 0x8b: "f64.mul",
		0x8c: "f64.div", 0x8d: "f64.min", 0x8e: "f64.max",
		0x8f: "f64.abs", 0x90: "f64.neg", 0x91: "f64.copysign",
		0x92: "f64.ceil", 0x93: "f64.floor", 0x94: "f64.trunc",
		0x95: "f64.nearest", 0x96: "f64.sqrt", 0x97: "f64.eq",
		0x98: "f64.ne", 0x99: "f64.lt", 0x9a: "f64.le",
		0x9b: "f64.gt", 0x9c: "f64.ge",
	}
	for op, name := range floats {
		set(op, name, immNone)
	}

	// Conversion operators
	conv := map[byte]string{
		0x9d: "i32.trunc_s/f32", 0x9e: "i32.trunc_s/f64",
		0x9f: "i32.trunc_u/f32", 0xa0: "i32.trunc_u/f64",
		0xa1: "i32.wrap/i64", 0xa2: "i64.trunc_s/f32",
		0xa3: "i64.trunc_s/f64", 0xa4: "i64.trunc_u/f32",
		0xa5: "i64.trunc_u/f64", 0xa6: "i64.extend_s/i32",
		0xa7: "i64.extend_u/i32", 0xa8: "f32.convert_s/i32",
		0xa9: "f32.convert_u/i32", 0xaa: "f32.convert_s/i64",
		0xab: "f32.convert_u/i64", 0xac: "f32.demote/f64",
		0xad: "f32.reinterpret/i32", 0xae: "f64.convert_s/i32",
		0xaf: "f64.convert_u/i32", 0xb0: "f64.convert_s/i64",
		0xb1: "f64.convert_u/i64", 0xb2: "f64.promote/f32",
		0xb3: "f64.reinterpret/i64", 0xb4: "i32.reinterpret/f32",
		0xb5: "i64.reinterpret/f64",
	}
	for op, name := range conv {
		set(op, name, immNone)
	}
}

// OpName returns the mnemonic for an opcode byte, or "" if the byte is not
// a valid operator in this version.
func OpName(op byte) string {
	return opTable[op].name
}

// dropImmediates advances the reader past the immediates of op.
func dropImmediates(r *Reader, op byte) error {
	info := opTable[op]
	if info.name == "" {
		return errors.WrapBadOpcode(r.Pos-1, op)
	}
	switch info.imm {
	case immNone:
		return nil
	case immBlockSig:
		_, err := r.ReadByte()
		return err
	case immVaruint32:
		_, err := r.ReadLEB(32, false)
		return err
	case immVarint32:
		_, err := r.ReadLEB(32, true)
		return err
	case immVarint64:
		_, err := r.ReadLEB(64, true)
		return err
	case immUint32:
		_, err := r.ReadBytes(4)
		return err
	case immUint64:
		_, err := r.ReadBytes(8)
		return err
	case immMemory:
		if _, err := r.ReadLEB(32, false); err != nil { // flags
			return err
		}
		_, err := r.ReadLEB(32, false) // offset
		return err
	case immBrTable:
		count, err := r.ReadLEB(32, false)
		if err != nil {
			return err
		}
		for i := int64(0); i <= count; i++ { // targets plus default
			if _, err := r.ReadLEB(32, false); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.WrapBadOpcode(r.Pos-1, op)
}
