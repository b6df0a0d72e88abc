// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

// Package wasm implements a decoder and interpreter for the early
// WebAssembly binary format (version 0xc). A module binary is decoded into
// type/import/function/export tables, each function body gets a one-shot
// control-flow pre-pass that matches structured block/loop/if/else/end
// pairs, and a stack-based engine executes a named export against a
// little-endian linear memory.
package wasm

import (
	"fmt"

	"github.com/shiqicao/warpy/internal/errors"
)

// Magic and version accepted by the decoder.
const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 0x0c
)

// ValueKind identifies a value or signature type.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindAnyFunc
	KindFunc
	KindEmptyBlock
)

func (k ValueKind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindAnyFunc:
		return "anyfunc"
	case KindFunc:
		return "func"
	case KindEmptyBlock:
		return "empty_block_type"
	}
	return "none"
}

// valueKinds maps the binary's value-kind byte codes.
var valueKinds = map[int64]ValueKind{
	0x01: KindI32,
	0x02: KindI64,
	0x03: KindF32,
	0x04: KindF64,
	0x10: KindAnyFunc,
	0x20: KindFunc,
	0x40: KindEmptyBlock,
}

func valueKind(code int64) (ValueKind, error) {
	k, ok := valueKinds[code]
	if !ok {
		return KindNone, fmt.Errorf("%w: value kind 0x%x", errors.ErrUnknownSection, code)
	}
	return k, nil
}

// Value is a tagged numeric value. Integers are two's-complement machine
// integers; the signed/unsigned interpretation is per opcode.
type Value struct {
	Kind ValueKind
	i64  int64
	f64  float64
}

func I32(v int32) Value   { return Value{Kind: KindI32, i64: int64(v)} }
func I64(v int64) Value   { return Value{Kind: KindI64, i64: v} }
func F32(v float32) Value { return Value{Kind: KindF32, f64: float64(v)} }
func F64(v float64) Value { return Value{Kind: KindF64, f64: v} }

func (v Value) I32() int32   { return int32(v.i64) }
func (v Value) I64() int64   { return v.i64 }
func (v Value) F32() float32 { return float32(v.f64) }
func (v Value) F64() float64 { return v.f64 }

// String renders the value the way the CLI prints results: hex for
// integers, decimal for floats, suffixed with the kind.
func (v Value) String() string {
	switch v.Kind {
	case KindI32:
		return fmt.Sprintf("0x%x:%s", v.I32(), v.Kind)
	case KindI64:
		return fmt.Sprintf("0x%x:%s", v.I64(), v.Kind)
	case KindF32:
		return fmt.Sprintf("%f:%s", v.F32(), v.Kind)
	case KindF64:
		return fmt.Sprintf("%f:%s", v.F64(), v.Kind)
	}
	return "none"
}

// zeroValue returns the zero of a numeric kind, for local initialization.
func zeroValue(k ValueKind) (Value, error) {
	switch k {
	case KindI32:
		return I32(0), nil
	case KindI64:
		return I64(0), nil
	case KindF32:
		return F32(0), nil
	case KindF64:
		return F64(0), nil
	}
	return Value{}, fmt.Errorf("%w: local kind %s", errors.ErrCallSignature, k)
}

// Type is a function or block signature. Multi-value results are not
// supported: len(Results) <= 1.
type Type struct {
	Index   int
	Form    ValueKind
	Params  []ValueKind
	Results []ValueKind
}

// blockTypes maps the inline block-signature byte for block/loop/if.
var blockTypes = map[byte]*Type{
	0x00: {Index: -1, Form: KindEmptyBlock},
	0x01: {Index: -1, Form: KindEmptyBlock, Results: []ValueKind{KindI32}},
	0x02: {Index: -1, Form: KindEmptyBlock, Results: []ValueKind{KindI64}},
	0x03: {Index: -1, Form: KindEmptyBlock, Results: []ValueKind{KindF32}},
	0x04: {Index: -1, Form: KindEmptyBlock, Results: []ValueKind{KindF64}},
}

// BlockKind distinguishes structured-control regions.
type BlockKind int

const (
	BlockFunction BlockKind = -1
	BlockBlock    BlockKind = 0x01
	BlockLoop     BlockKind = 0x02
	BlockIf       BlockKind = 0x03
	BlockElse     BlockKind = 0x04
)

func (k BlockKind) String() string {
	switch k {
	case BlockFunction:
		return "fn"
	case BlockBlock:
		return "block"
	case BlockLoop:
		return "loop"
	case BlockIf:
		return "if"
	case BlockElse:
		return "else"
	}
	return "?"
}

// Block is a structured region: block, loop, if or else. Start and End are
// byte offsets into the module (first byte of the construct and offset of
// its terminating end/else); LabelAddr is where a branch targeting the
// block resumes.
type Block struct {
	Kind      BlockKind
	Type      *Type
	Start     int
	End       int
	LabelAddr int
}

func (b *Block) blockType() *Type        { return b.Type }
func (b *Block) localKinds() []ValueKind { return nil }
func (b *Block) label() int              { return b.LabelAddr }

// Function is a function-table entry: either a native body or an import.
// Indices are assigned sequentially with imports preceding native
// functions. For a native function, Start..End is the code range excluding
// the terminating end byte and LabelAddr equals End.
type Function struct {
	Type      *Type
	Index     int
	Imported  bool
	Module    string
	Field     string
	Locals    []ValueKind
	Start     int
	End       int
	LabelAddr int
}

func (f *Function) blockType() *Type        { return f.Type }
func (f *Function) localKinds() []ValueKind { return f.Locals }
func (f *Function) label() int              { return f.LabelAddr }

// scope is an entry on the signature stack: a structured Block or an
// active Function frame.
type scope interface {
	blockType() *Type
	localKinds() []ValueKind
	label() int
}

// ExternalKind classifies imports and exports.
type ExternalKind byte

const (
	ExtFunction ExternalKind = 0
	ExtTable    ExternalKind = 1
	ExtMemory   ExternalKind = 2
	ExtGlobal   ExternalKind = 3
)

func (k ExternalKind) String() string {
	switch k {
	case ExtFunction:
		return "Function"
	case ExtTable:
		return "Table"
	case ExtMemory:
		return "Memory"
	case ExtGlobal:
		return "Global"
	}
	return "?"
}

// Import is a module.field entry from the Import section. The tail fields
// depend on Kind.
type Import struct {
	Module string
	Field  string
	Kind   ExternalKind

	TypeIndex  int       // Function
	Initial    int64     // Table, Memory
	Maximum    int64     // Table, Memory
	GlobalType ValueKind // Global
	Mutability int64     // Global
}

// Export maps a field name to an index in the corresponding index space.
type Export struct {
	Field string
	Kind  ExternalKind
	Index int
}
