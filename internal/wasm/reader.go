// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shiqicao/warpy/internal/errors"
)

// Reader is a cursor over a byte buffer. All multi-byte numeric fields in
// the binary are little-endian. Pos is exported because the execution
// engine uses the reader position as its instruction pointer.
type Reader struct {
	bytes []byte
	Pos   int
}

func NewReader(b []byte) *Reader {
	return &Reader{bytes: b}
}

// Len returns the total buffer length.
func (r *Reader) Len() int { return len(r.bytes) }

// Bytes returns the underlying buffer.
func (r *Reader) Bytes() []byte { return r.bytes }

// EOF reports whether the cursor is at or past the end of the buffer.
func (r *Reader) EOF() bool { return r.Pos >= len(r.bytes) }

// ReadByte returns the next byte and advances the cursor.
func (r *Reader) ReadByte() (byte, error) {
	if r.Pos >= len(r.bytes) {
		return 0, fmt.Errorf("%w: at 0x%x", errors.ErrUnexpectedEOF, r.Pos)
	}
	b := r.bytes[r.Pos]
	r.Pos++
	return b, nil
}

// ReadWord reads a 4-byte little-endian word.
func (r *Reader) ReadWord() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadBytes returns the next cnt bytes as a subslice and advances.
func (r *Reader) ReadBytes(cnt int) ([]byte, error) {
	if cnt < 0 || r.Pos+cnt > len(r.bytes) {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x", errors.ErrUnexpectedEOF, cnt, r.Pos)
	}
	b := r.bytes[r.Pos : r.Pos+cnt]
	r.Pos += cnt
	return b, nil
}

// ReadF32 reads a 4-byte little-endian IEEE-754 bit pattern.
func (r *Reader) ReadF32() (float32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadF64 reads an 8-byte little-endian IEEE-754 bit pattern.
func (r *Reader) ReadF64() (float64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadLEB decodes a LEB128 integer of at most maxbits payload bits: 7 bits
// per byte, continuation in the MSB. More than ceil(maxbits/7)
// continuation bytes is an overflow. For signed decoding, if the final
// byte's 0x40 bit is set and the decoded bits do not already fill the
// 64-bit result, the result is sign-extended from the final byte.
func (r *Reader) ReadLEB(maxbits uint, signed bool) (int64, error) {
	var result int64
	var shift uint
	maxCont := (int(maxbits) + 6) / 7
	start := r.Pos

	cont := 0
	var b byte
	for {
		var err error
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		cont++
		if cont > maxCont {
			return 0, errors.WrapLEBOverflow(start)
		}
	}
	if signed && shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// ReadU32 reads an unsigned 32-bit LEB.
func (r *Reader) ReadU32() (int64, error) {
	return r.ReadLEB(32, false)
}

// ReadName reads a LEB32 length-prefixed UTF-8 string.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
