// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiqicao/warpy/internal/errors"
)

// loadBody builds a single-function module around code and decodes it,
// returning the module and the function.
func loadBody(t *testing.T, resultKinds []byte, code []byte) (*Module, *Function) {
	t.Helper()
	data := buildModule(
		typeSection(funcType(nil, resultKinds)),
		functionSection(0),
		codeSection(funcBody(nil, code)),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)
	require.Len(t, m.Functions(), 1)
	return m, m.Functions()[0]
}

func blockOfKind(t *testing.T, m *Module, kind BlockKind) *Block {
	t.Helper()
	var found *Block
	for _, b := range m.Blocks() {
		if b.Kind == kind {
			require.Nil(t, found, "more than one %s block", kind)
			found = b
		}
	}
	require.NotNil(t, found, "no %s block", kind)
	return found
}

func TestFindBlocksNestedLoop(t *testing.T) {
	m, fn := loadBody(t, nil, []byte{
		0x01, 0x00, // block
		0x02, 0x00, // loop
		0x10, 0x00, // i32.const 0
		0x07, 0x01, // br_if 1 (the block)
		0x0f, // end loop
		0x0f, // end block
	})
	s := fn.Start

	require.Len(t, m.Blocks(), 2)
	blk := blockOfKind(t, m, BlockBlock)
	assert.Equal(t, s, blk.Start)
	assert.Equal(t, s+9, blk.End)
	assert.Equal(t, s+10, blk.LabelAddr, "block branches past its end")

	loop := blockOfKind(t, m, BlockLoop)
	assert.Equal(t, s+2, loop.Start)
	assert.Equal(t, s+8, loop.End)
	assert.Equal(t, loop.Start, loop.LabelAddr, "loop re-enters at its start")

	// The branch at s+6 resolves depth 1 to the outer block.
	target, ok := m.Branches()[s+6]
	require.True(t, ok)
	assert.Same(t, blk, target)
}

func TestFindBlocksBranchDepthZero(t *testing.T) {
	m, fn := loadBody(t, nil, []byte{
		0x02, 0x00, // loop
		0x10, 0x01, // i32.const 1
		0x07, 0x00, // br_if 0 (the loop)
		0x0f, // end loop
	})
	s := fn.Start

	loop := blockOfKind(t, m, BlockLoop)
	target, ok := m.Branches()[s+4]
	require.True(t, ok)
	assert.Same(t, loop, target)
	// Branch origin lies inside the target's lexical extent.
	assert.Greater(t, s+4, loop.Start)
	assert.Less(t, s+4, loop.End)
}

func TestFindBlocksIfElse(t *testing.T) {
	m, fn := loadBody(t, []byte{0x01}, []byte{
		0x14, 0x00, // get_local 0
		0x03, 0x01, // if (result i32)
		0x10, 0x01, // i32.const 1
		0x04,       // else
		0x10, 0x02, // i32.const 2
		0x0f, // end if
	})
	s := fn.Start

	require.Len(t, m.Blocks(), 2)
	ifBlk := blockOfKind(t, m, BlockIf)
	assert.Equal(t, s+2, ifBlk.Start)
	assert.Equal(t, s+6, ifBlk.End, "if ends at its else")

	elseBlk := blockOfKind(t, m, BlockElse)
	assert.Equal(t, s+6, elseBlk.Start)
	assert.Equal(t, s+9, elseBlk.End)
	assert.Equal(t, s+10, elseBlk.LabelAddr)
	assert.Equal(t, s+10, ifBlk.LabelAddr, "if with else branches past the construct")

	require.Len(t, ifBlk.Type.Results, 1)
	assert.Equal(t, KindI32, ifBlk.Type.Results[0])
}

func TestFindBlocksClosure(t *testing.T) {
	// Every recorded block has exactly one matching terminator inside the
	// function range, and ends nest properly.
	m, fn := loadBody(t, nil, []byte{
		0x01, 0x00, // block
		0x01, 0x00, // block
		0x0f,       // end inner
		0x02, 0x00, // loop
		0x0f, // end loop
		0x0f, // end outer
	})
	for _, b := range m.Blocks() {
		assert.GreaterOrEqual(t, b.Start, fn.Start)
		assert.Less(t, b.Start, b.End)
		assert.Less(t, b.End, fn.End)
	}
	assert.Len(t, m.Blocks(), 3)
}

func TestFindBlocksUnmatchedElse(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x04})),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrUnmatchedElse)
}

func TestFindBlocksElseAfterBlockIsUnmatched(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x01, 0x00, 0x04, 0x0f})),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrUnmatchedElse)
}

func TestFindBlocksUnmatchedEnd(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x0f})),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrUnmatchedEnd)
}

func TestFindBlocksBadBlockType(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x01, 0x07, 0x0f})),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrBadBlockType)
}

func TestFindBlocksBadOpcode(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x0c})),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrBadOpcode)
}
