// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"fmt"

	"github.com/shiqicao/warpy/internal/errors"
	"github.com/shiqicao/warpy/internal/logger"
)

// openBlock is a pass-A work item: a structured construct whose end has
// not been seen yet.
type openBlock struct {
	opcode byte
	sig    *Type
	start  int
}

// findBlocks runs the control-flow pre-pass over fn's code range
// [start, end]: pass A matches block/loop/if/else/end pairs into the block
// map, pass B assigns branch targets for every br/br_if/br_table operand.
// The maps are never mutated after this returns.
func (m *Module) findBlocks(fn *Function, start, end int) error {
	rdr := NewReader(m.rdr.Bytes())
	rdr.Pos = start

	// Matched constructs: start offset -> (kind, signature, end offset).
	type matched struct {
		opcode byte
		sig    *Type
		end    int
	}
	startMap := map[int]matched{}
	endSet := map[int]bool{}
	var opstack []openBlock

	var opcode byte
	for rdr.Pos <= end {
		pos := rdr.Pos
		var err error
		opcode, err = rdr.ReadByte()
		if err != nil {
			return err
		}
		switch opcode {
		case opBlock, opLoop, opIf:
			sigByte, err := rdr.ReadByte()
			if err != nil {
				return err
			}
			sig, ok := blockTypes[sigByte]
			if !ok {
				return errors.WrapBadBlockType(sigByte)
			}
			opstack = append(opstack, openBlock{opcode: opcode, sig: sig, start: pos})
		case opElse:
			if len(opstack) == 0 {
				return fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedElse, pos)
			}
			open := opstack[len(opstack)-1]
			opstack = opstack[:len(opstack)-1]
			if open.opcode != opIf {
				return fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedElse, pos)
			}
			startMap[open.start] = matched{opcode: opIf, sig: open.sig, end: pos}
			endSet[pos] = true
			opstack = append(opstack, openBlock{opcode: opElse, sig: open.sig, start: pos})
		case opEnd:
			if pos == end {
				goto done
			}
			if len(opstack) == 0 {
				return fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedEnd, pos)
			}
			open := opstack[len(opstack)-1]
			opstack = opstack[:len(opstack)-1]
			startMap[open.start] = matched{opcode: open.opcode, sig: open.sig, end: pos}
			endSet[pos] = true
		default:
			if err := dropImmediates(rdr, opcode); err != nil {
				return err
			}
		}
	}
	if opcode != opEnd {
		return fmt.Errorf("%w: fn %d", errors.ErrUnterminatedFunction, fn.Index)
	}

done:
	// Materialize the blocks. Label addresses: loop re-enters at its own
	// start; an else resumes past its end; a block or else-less if resumes
	// past its end; an if with a paired else resumes past the construct's
	// final end (branches already unwind the scope, so the terminating end
	// must not run again). The function acts as its own block with the
	// label at its end, so the function-end logic runs.
	for bstart, rec := range startMap {
		b := &Block{
			Kind:  BlockKind(rec.opcode),
			Type:  rec.sig,
			Start: bstart,
			End:   rec.end,
		}
		switch b.Kind {
		case BlockLoop:
			b.LabelAddr = b.Start
		case BlockElse:
			b.LabelAddr = b.End + 1
		default: // block, if
			b.LabelAddr = b.End + 1
		}
		m.blockMap[bstart] = b
	}
	// An if with an else branches past the whole construct, not past the
	// else opcode its End points at.
	for _, b := range m.blockMap {
		if b.Kind == BlockIf {
			if tail, ok := m.blockMap[b.End]; ok && tail.Kind == BlockElse {
				b.LabelAddr = tail.End + 1
			}
		}
	}

	// Pass B: walk the range again with a block stack and resolve every
	// branch depth to its target block.
	rdr.Pos = start
	var blockstack []*Block

	for rdr.Pos < end {
		pos := rdr.Pos
		opcode, err := rdr.ReadByte()
		if err != nil {
			return err
		}

		if endSet[pos] {
			if len(blockstack) == 0 {
				return fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedEnd, pos)
			}
			blockstack = blockstack[:len(blockstack)-1]
		}
		if b, ok := m.blockMap[pos]; ok && b.Start == pos {
			blockstack = append(blockstack, b)
		}

		switch opcode {
		case opBr, opBrIf, opBrTable:
			targetCount := int64(1)
			if opcode == opBrTable {
				n, err := rdr.ReadLEB(32, false)
				if err != nil {
					return err
				}
				targetCount = n + 1 // the extra one is the default target
			}
			for c := int64(0); c < targetCount; c++ {
				depth, err := rdr.ReadLEB(32, false)
				if err != nil {
					return err
				}
				logger.Logger.Debug("branch", "pos", pos, "opcode", OpName(opcode), "depth", depth)
				if depth < int64(len(blockstack)) {
					m.branchMap[pos] = blockstack[len(blockstack)-1-int(depth)]
				}
				// A depth that escapes the block stack targets the
				// function itself; the engine traps on it at runtime.
			}
		default:
			if err := dropImmediates(rdr, opcode); err != nil {
				return err
			}
		}
	}
	return nil
}
