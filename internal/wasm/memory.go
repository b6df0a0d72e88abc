// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"encoding/binary"

	"github.com/shiqicao/warpy/internal/errors"
)

// PageSize is the linear-memory page granularity.
const PageSize = 65536

// Memory is a linear byte memory sized in whole pages. Multi-byte reads
// and writes are little-endian; every indexed access is bounds-checked and
// an out-of-range access is a trap.
type Memory struct {
	bytes []byte
}

// NewMemory allocates pages zero-filled pages.
func NewMemory(pages int) *Memory {
	if pages < 0 {
		pages = 0
	}
	return &Memory{bytes: make([]byte, pages*PageSize)}
}

// Len returns the memory size in bytes.
func (m *Memory) Len() int { return len(m.bytes) }

func (m *Memory) check(pos, n int) error {
	if pos < 0 || pos+n > len(m.bytes) {
		return errors.WrapMemoryOutOfBounds(pos, len(m.bytes))
	}
	return nil
}

func (m *Memory) ReadByte(pos int) (byte, error) {
	if err := m.check(pos, 1); err != nil {
		return 0, err
	}
	return m.bytes[pos], nil
}

func (m *Memory) WriteByte(pos int, val byte) error {
	if err := m.check(pos, 1); err != nil {
		return err
	}
	m.bytes[pos] = val
	return nil
}

func (m *Memory) ReadI32(pos int) (int32, error) {
	if err := m.check(pos, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(m.bytes[pos:])), nil
}

func (m *Memory) ReadI64(pos int) (int64, error) {
	if err := m.check(pos, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(m.bytes[pos:])), nil
}

func (m *Memory) WriteI32(pos int, val int32) error {
	if err := m.check(pos, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.bytes[pos:], uint32(val))
	return nil
}

func (m *Memory) WriteI64(pos int, val int64) error {
	if err := m.check(pos, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.bytes[pos:], uint64(val))
	return nil
}

// ReadBytes copies n bytes starting at pos.
func (m *Memory) ReadBytes(pos, n int) ([]byte, error) {
	if err := m.check(pos, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.bytes[pos:pos+n])
	return out, nil
}

// WriteBytes copies data into memory at pos.
func (m *Memory) WriteBytes(pos int, data []byte) error {
	if err := m.check(pos, len(data)); err != nil {
		return err
	}
	copy(m.bytes[pos:], data)
	return nil
}
