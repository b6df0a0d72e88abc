// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiqicao/warpy/internal/errors"
)

func TestLoadBadMagic(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff, 0x0c, 0x00, 0x00, 0x00}
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrBadMagic)
}

func TestLoadBadVersion(t *testing.T) {
	data := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrBadVersion)
}

func TestLoadTruncatedHeader(t *testing.T) {
	_, err := Load([]byte{0x00, 0x61}, noHost)
	assert.ErrorIs(t, err, errors.ErrUnexpectedEOF)
}

func TestLoadEmptyModule(t *testing.T) {
	m, err := Load(buildModule(), noHost)
	require.NoError(t, err)
	assert.Empty(t, m.Types())
	assert.Empty(t, m.Functions())
	// Default memory is a single preallocated page.
	assert.Equal(t, PageSize, m.Memory().Len())
}

func TestLoadTypeSection(t *testing.T) {
	data := buildModule(typeSection(
		funcType([]byte{0x01, 0x02}, []byte{0x01}), // (i32, i64) -> i32
		funcType(nil, nil),                         // () -> ()
	))
	m, err := Load(data, noHost)
	require.NoError(t, err)

	require.Len(t, m.Types(), 2)
	t0 := m.Types()[0]
	assert.Equal(t, 0, t0.Index)
	assert.Equal(t, KindFunc, t0.Form)
	assert.Equal(t, []ValueKind{KindI32, KindI64}, t0.Params)
	assert.Equal(t, []ValueKind{KindI32}, t0.Results)
	assert.Empty(t, m.Types()[1].Params)
}

func TestLoadFunctionAndCode(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, []byte{0x01})),
		functionSection(0),
		codeSection(funcBody(nil, []byte{0x10, 0x2a})), // i32.const 42
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)

	require.Len(t, m.Functions(), 1)
	fn := m.Functions()[0]
	assert.False(t, fn.Imported)
	assert.Empty(t, fn.Locals)
	// The recorded range excludes the terminating end byte.
	assert.Equal(t, byte(0x10), data[fn.Start])
	assert.Equal(t, byte(0x0f), data[fn.End])
	assert.Equal(t, fn.End, fn.LabelAddr)
}

func TestLoadCodeLocalsFlattened(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		codeSection(funcBody(
			localGroups(localGroup(2, 0x01), localGroup(1, 0x02)),
			[]byte{0x0a}, // nop
		)),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)
	assert.Equal(t, []ValueKind{KindI32, KindI32, KindI64}, m.Functions()[0].Locals)
}

func TestLoadCodeMissingEnd(t *testing.T) {
	body := []byte{0x00, 0x0a, 0x0a} // locals, nop, nop: no end terminator
	raw := append(uleb(uint64(len(body))), body...)
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0),
		section(SectionCode, append(uleb(1), raw...)),
	)
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrUnterminatedFunction)
}

func TestLoadImportsPrecedeFunctions(t *testing.T) {
	data := buildModule(
		typeSection(
			funcType([]byte{0x01}, nil),
			funcType(nil, nil),
		),
		importSection(funcImport("core", "DEBUG", 0)),
		functionSection(1),
		codeSection(funcBody(nil, []byte{0x0a})),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)

	require.Len(t, m.Functions(), 2)
	imp := m.Functions()[0]
	assert.True(t, imp.Imported)
	assert.Equal(t, "core", imp.Module)
	assert.Equal(t, "DEBUG", imp.Field)
	assert.Equal(t, 0, imp.Index)
	assert.False(t, m.Functions()[1].Imported)
	assert.Equal(t, 1, m.Functions()[1].Index)
}

func TestLoadExportMap(t *testing.T) {
	data := buildModule(
		typeSection(funcType(nil, nil)),
		functionSection(0, 0),
		exportSection(export("main", 0), export("other", 1)),
		codeSection(
			funcBody(nil, []byte{0x0a}),
			funcBody(nil, []byte{0x0a}),
		),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)

	require.Len(t, m.Exports(), 2)
	e, ok := m.Export("other")
	require.True(t, ok)
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, ExtFunction, e.Kind)

	_, ok = m.Export("nope")
	assert.False(t, ok)
}

func TestLoadMemorySection(t *testing.T) {
	data := buildModule(memorySection(2))
	m, err := Load(data, noHost)
	require.NoError(t, err)
	assert.Equal(t, 2*PageSize, m.Memory().Len())
}

func TestLoadDataSectionInitializesMemory(t *testing.T) {
	payload := append([]byte{5, 0, 0, 0}, []byte("hello")...)
	data := buildModule(
		memorySection(1),
		dataSection(dataSegment(8, payload)),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)

	length, err := m.Memory().ReadI32(8)
	require.NoError(t, err)
	assert.Equal(t, int32(5), length)

	b, err := m.Memory().ReadBytes(12, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestLoadSkippedSections(t *testing.T) {
	data := buildModule(
		section(SectionCustom, []byte{1, 2, 3}),
		section(SectionGlobal, []byte{0xaa}),
		typeSection(funcType(nil, nil)),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)
	assert.Len(t, m.Types(), 1)
}

func TestLoadUnknownSection(t *testing.T) {
	data := buildModule(section(42, []byte{}))
	_, err := Load(data, noHost)
	assert.ErrorIs(t, err, errors.ErrUnknownSection)
}

func TestDumpListsTables(t *testing.T) {
	data := buildModule(
		typeSection(funcType([]byte{0x01}, []byte{0x01})),
		functionSection(0),
		exportSection(export("fact", 0)),
		codeSection(funcBody(nil, []byte{
			0x01, 0x00, // block
			0x06, 0x00, // br 0
			0x0f, // end block
		})),
	)
	m, err := Load(data, noHost)
	require.NoError(t, err)

	var buf bytes.Buffer
	m.Dump(&buf)
	out := buf.String()
	assert.Contains(t, out, "Types:")
	assert.Contains(t, out, "Exports:")
	assert.Contains(t, out, "field: fact")
	assert.Contains(t, out, "block<0->0>")
	assert.Contains(t, out, "Branches:")
}
