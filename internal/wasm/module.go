// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"fmt"
	"io"
	"sort"

	"github.com/shiqicao/warpy/internal/errors"
	"github.com/shiqicao/warpy/internal/logger"
)

// Section ids in the version-0xc encoding.
const (
	SectionCustom   = 0
	SectionType     = 1
	SectionImport   = 2
	SectionFunction = 3
	SectionTable    = 4
	SectionMemory   = 5
	SectionGlobal   = 6
	SectionExport   = 7
	SectionStart    = 8
	SectionElement  = 9
	SectionCode     = 10
	SectionData     = 11
)

// HostFunc is the import callback supplied by the embedder. Arguments
// arrive in left-to-right source order; results are returned left-to-right
// and type-checked against the import's declared result kinds. The host
// may read and write linear memory freely during the call.
type HostFunc func(mem *Memory, module, field string, args []Value) ([]Value, error)

// Module owns the decoded tables, the control-flow maps built by the
// pre-pass, and the four runtime stacks. One Module instance serves one
// invocation at a time.
type Module struct {
	data []byte
	rdr  *Reader
	host HostFunc

	types      []*Type
	imports    []*Import
	functions  []*Function
	exportList []*Export
	exports    map[string]*Export
	memory     *Memory

	// blockMap keys structured regions by their start offset; branchMap
	// records the target block of every br/br_if/br_table operand.
	blockMap  map[int]*Block
	branchMap map[int]*Block

	// Runtime stacks, reset on every top-level invocation.
	stack    []Value // operands
	locals   []Value // params and locals of all active frames
	sigstack []scope // active structured-control nesting
	retstack []int   // one reader offset per active call
}

// Load decodes a module binary: magic, version, then sections until EOF.
// The control-flow pre-pass runs on each function body as it is decoded.
func Load(data []byte, host HostFunc) (*Module, error) {
	m := &Module{
		data:      data,
		rdr:       NewReader(data),
		host:      host,
		exports:   map[string]*Export{},
		blockMap:  map[int]*Block{},
		branchMap: map[int]*Block{},
		memory:    NewMemory(1), // default to 1 page
	}

	if err := m.readMagic(); err != nil {
		return nil, err
	}
	if err := m.readVersion(); err != nil {
		return nil, err
	}
	for !m.rdr.EOF() {
		if err := m.readSection(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Memory returns the module's linear memory.
func (m *Module) Memory() *Memory { return m.memory }

// Types returns the decoded signature table.
func (m *Module) Types() []*Type { return m.types }

// Functions returns the function table, imports first.
func (m *Module) Functions() []*Function { return m.functions }

// Exports returns the ordered export list.
func (m *Module) Exports() []*Export { return m.exportList }

// Export looks up an export by field name.
func (m *Module) Export(name string) (*Export, bool) {
	e, ok := m.exports[name]
	return e, ok
}

// Blocks returns the block map built by the pre-pass.
func (m *Module) Blocks() map[int]*Block { return m.blockMap }

// Branches returns the branch-origin map built by the pre-pass.
func (m *Module) Branches() map[int]*Block { return m.branchMap }

func (m *Module) readMagic() error {
	magic, err := m.rdr.ReadWord()
	if err != nil {
		return err
	}
	if magic != Magic {
		return errors.WrapBadMagic(Magic, magic)
	}
	return nil
}

func (m *Module) readVersion() error {
	version, err := m.rdr.ReadWord()
	if err != nil {
		return err
	}
	if version != Version {
		return errors.WrapBadVersion(Version, version)
	}
	return nil
}

func (m *Module) readSection() error {
	id, err := m.rdr.ReadLEB(7, false)
	if err != nil {
		return err
	}
	length, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	logger.Logger.Debug("section", "id", id, "length", length)

	switch id {
	case SectionType:
		return m.parseType()
	case SectionImport:
		return m.parseImport()
	case SectionFunction:
		return m.parseFunction()
	case SectionMemory:
		return m.parseMemory()
	case SectionExport:
		return m.parseExport()
	case SectionCode:
		return m.parseCode()
	case SectionData:
		return m.parseData()
	case SectionCustom, SectionTable, SectionGlobal, SectionStart, SectionElement:
		// Present in the format but not acted on in this version.
		_, err := m.rdr.ReadBytes(int(length))
		return err
	default:
		return errors.WrapUnknownSection(id)
	}
}

func (m *Module) parseType() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	for c := int64(0); c < count; c++ {
		formCode, err := m.rdr.ReadLEB(7, false)
		if err != nil {
			return err
		}
		form, err := valueKind(formCode)
		if err != nil {
			return err
		}
		t := &Type{Index: len(m.types), Form: form}

		paramCount, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		for i := int64(0); i < paramCount; i++ {
			code, err := m.rdr.ReadU32()
			if err != nil {
				return err
			}
			k, err := valueKind(code)
			if err != nil {
				return err
			}
			t.Params = append(t.Params, k)
		}

		resultCount, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		for i := int64(0); i < resultCount; i++ {
			code, err := m.rdr.ReadU32()
			if err != nil {
				return err
			}
			k, err := valueKind(code)
			if err != nil {
				return err
			}
			t.Results = append(t.Results, k)
		}
		m.types = append(m.types, t)
	}
	return nil
}

func (m *Module) parseImport() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	for c := int64(0); c < count; c++ {
		module, err := m.rdr.ReadName()
		if err != nil {
			return err
		}
		field, err := m.rdr.ReadName()
		if err != nil {
			return err
		}
		kindByte, err := m.rdr.ReadByte()
		if err != nil {
			return err
		}
		kind := ExternalKind(kindByte)

		switch kind {
		case ExtFunction:
			sigIndex, err := m.rdr.ReadU32()
			if err != nil {
				return err
			}
			if int(sigIndex) >= len(m.types) {
				return fmt.Errorf("%w: import signature %d", errors.ErrUnknownSection, sigIndex)
			}
			t := m.types[sigIndex]
			m.imports = append(m.imports, &Import{
				Module: module, Field: field, Kind: kind, TypeIndex: int(sigIndex),
			})
			// An imported function occupies its slot in the function
			// index space ahead of all native functions.
			m.functions = append(m.functions, &Function{
				Type: t, Index: len(m.functions),
				Imported: true, Module: module, Field: field,
			})
		case ExtTable, ExtMemory:
			if kind == ExtTable {
				if _, err := m.rdr.ReadLEB(7, false); err != nil { // element type
					return err
				}
			}
			flags, err := m.rdr.ReadU32()
			if err != nil {
				return err
			}
			initial, err := m.rdr.ReadU32()
			if err != nil {
				return err
			}
			var maximum int64
			if flags&0x1 != 0 {
				if maximum, err = m.rdr.ReadU32(); err != nil {
					return err
				}
			}
			m.imports = append(m.imports, &Import{
				Module: module, Field: field, Kind: kind,
				Initial: initial, Maximum: maximum,
			})
			if kind == ExtMemory {
				m.memory = NewMemory(int(initial))
			}
		case ExtGlobal:
			typeByte, err := m.rdr.ReadByte()
			if err != nil {
				return err
			}
			gt, err := valueKind(int64(typeByte))
			if err != nil {
				return err
			}
			mutability, err := m.rdr.ReadLEB(1, false)
			if err != nil {
				return err
			}
			m.imports = append(m.imports, &Import{
				Module: module, Field: field, Kind: kind,
				GlobalType: gt, Mutability: mutability,
			})
		default:
			return fmt.Errorf("%w: import kind %d", errors.ErrUnknownSection, kind)
		}
	}
	return nil
}

func (m *Module) parseFunction() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	for c := int64(0); c < count; c++ {
		sigIndex, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		if int(sigIndex) >= len(m.types) {
			return fmt.Errorf("%w: function signature %d", errors.ErrUnknownSection, sigIndex)
		}
		m.functions = append(m.functions, &Function{
			Type:  m.types[sigIndex],
			Index: len(m.functions),
		})
	}
	return nil
}

func (m *Module) parseMemory() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	if count > 1 {
		return fmt.Errorf("%w: multiple memories", errors.ErrUnknownSection)
	}
	flags, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	initial, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	if flags&0x1 != 0 {
		if _, err := m.rdr.ReadU32(); err != nil { // maximum
			return err
		}
	}
	m.memory = NewMemory(int(initial))
	return nil
}

func (m *Module) parseExport() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	for c := int64(0); c < count; c++ {
		field, err := m.rdr.ReadName()
		if err != nil {
			return err
		}
		kindByte, err := m.rdr.ReadByte()
		if err != nil {
			return err
		}
		index, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		exp := &Export{Field: field, Kind: ExternalKind(kindByte), Index: int(index)}
		m.exportList = append(m.exportList, exp)
		m.exports[field] = exp
	}
	return nil
}

func (m *Module) parseCode() error {
	bodyCount, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	importCount := 0
	for _, f := range m.functions {
		if f.Imported {
			importCount++
		}
	}
	for idx := int64(0); idx < bodyCount; idx++ {
		if err := m.parseCodeBody(importCount + int(idx)); err != nil {
			return err
		}
	}
	return nil
}

// parseCodeBody decodes one function body: the local declarations, then
// the code range. The recorded start..end excludes the trailing end byte,
// whose presence is verified here.
func (m *Module) parseCodeBody(idx int) error {
	if idx >= len(m.functions) || m.functions[idx].Imported {
		return fmt.Errorf("%w: code body %d has no function", errors.ErrUnknownSection, idx)
	}
	bodySize, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	payloadStart := m.rdr.Pos

	localGroups, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	var locals []ValueKind
	for g := int64(0); g < localGroups; g++ {
		n, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		code, err := m.rdr.ReadLEB(7, false)
		if err != nil {
			return err
		}
		k, err := valueKind(code)
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			locals = append(locals, k)
		}
	}

	start := m.rdr.Pos
	rest := int(bodySize) - (m.rdr.Pos - payloadStart) - 1
	if rest < 0 {
		return fmt.Errorf("%w: body %d", errors.ErrUnterminatedFunction, idx)
	}
	if _, err := m.rdr.ReadBytes(rest); err != nil {
		return err
	}
	end := m.rdr.Pos
	terminator, err := m.rdr.ReadByte()
	if err != nil {
		return err
	}
	if terminator != opEnd {
		return fmt.Errorf("%w: body %d ends with 0x%02x", errors.ErrUnterminatedFunction, idx, terminator)
	}

	fn := m.functions[idx]
	fn.Locals = locals
	fn.Start = start
	fn.End = end
	fn.LabelAddr = end
	return m.findBlocks(fn, start, end)
}

// parseData materializes Data segments into linear memory. Each segment is
// index, offset, size, then the raw bytes.
func (m *Module) parseData() error {
	count, err := m.rdr.ReadU32()
	if err != nil {
		return err
	}
	for c := int64(0); c < count; c++ {
		if _, err := m.rdr.ReadU32(); err != nil { // memory index
			return err
		}
		offset, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		size, err := m.rdr.ReadU32()
		if err != nil {
			return err
		}
		data, err := m.rdr.ReadBytes(int(size))
		if err != nil {
			return err
		}
		if err := m.memory.WriteBytes(int(offset), data); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the decoded tables and control-flow maps, mirroring what the
// decoder saw. Used by the dump command.
func (m *Module) Dump(w io.Writer) {
	blockKeys := make([]int, 0, len(m.blockMap))
	for k := range m.blockMap {
		blockKeys = append(blockKeys, k)
	}
	sort.Ints(blockKeys)
	fmt.Fprintln(w, "Blocks:")
	for _, k := range blockKeys {
		b := m.blockMap[k]
		fmt.Fprintf(w, "  %s<0->%d> [0x%x->0x%x] label 0x%x\n",
			b.Kind, len(b.Type.Results), b.Start, b.End, b.LabelAddr)
	}

	branchKeys := make([]int, 0, len(m.branchMap))
	for k := range m.branchMap {
		branchKeys = append(branchKeys, k)
	}
	sort.Ints(branchKeys)
	fmt.Fprintln(w, "Branches:")
	for _, k := range branchKeys {
		fmt.Fprintf(w, "  0x%x -> 0x%x\n", k, m.branchMap[k].Start)
	}

	fmt.Fprintln(w, "Types:")
	for i, t := range m.types {
		fmt.Fprintf(w, "  %d [form: %s, params: %v, results: %v]\n",
			i, t.Form, t.Params, t.Results)
	}

	fmt.Fprintln(w, "Imports:")
	for i, imp := range m.imports {
		switch imp.Kind {
		case ExtFunction:
			fmt.Fprintf(w, "  %d [type: %d, '%s.%s', kind: %s]\n",
				i, imp.TypeIndex, imp.Module, imp.Field, imp.Kind)
		case ExtTable, ExtMemory:
			fmt.Fprintf(w, "  %d ['%s.%s', kind: %s, initial: %d, maximum: %d]\n",
				i, imp.Module, imp.Field, imp.Kind, imp.Initial, imp.Maximum)
		case ExtGlobal:
			fmt.Fprintf(w, "  %d ['%s.%s', kind: %s, type: %s, mutability: %d]\n",
				i, imp.Module, imp.Field, imp.Kind, imp.GlobalType, imp.Mutability)
		}
	}

	fmt.Fprintln(w, "Functions:")
	for i, f := range m.functions {
		if f.Imported {
			fmt.Fprintf(w, "  %d [type: %d, import: '%s.%s']\n",
				i, f.Type.Index, f.Module, f.Field)
		} else {
			fmt.Fprintf(w, "  %d [type: %d, locals: %v, start: 0x%x, end: 0x%x]\n",
				i, f.Type.Index, f.Locals, f.Start, f.End)
		}
	}

	fmt.Fprintln(w, "Exports:")
	for i, e := range m.exportList {
		fmt.Fprintf(w, "  %d [kind: %s, field: %s, index: %d]\n",
			i, e.Kind, e.Field, e.Index)
	}
}
