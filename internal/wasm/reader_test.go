// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiqicao/warpy/internal/errors"
)

func TestReadByteAndEOF(t *testing.T) {
	r := NewReader([]byte{0xab})
	require.False(t, r.EOF())

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), b)
	assert.True(t, r.EOF())

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, errors.ErrUnexpectedEOF)
}

func TestReadWordLittleEndian(t *testing.T) {
	r := NewReader([]byte{0x00, 0x61, 0x73, 0x6d})
	w, err := r.ReadWord()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x6d736100), w)
}

func TestReadBytesTruncated(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadBytes(3)
	assert.ErrorIs(t, err, errors.ErrUnexpectedEOF)
}

func TestReadLEBUnsigned(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
		want  int64
	}{
		{"zero", []byte{0x00}, 0},
		{"single byte", []byte{0x3f}, 63},
		{"three bytes", []byte{0xe5, 0x8e, 0x26}, 624485},
		{"max u32", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.bytes)
			v, err := r.ReadLEB(32, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestReadLEBSigned(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
		want  int64
	}{
		{"positive", []byte{0x2a}, 42},
		{"negative one", []byte{0x7f}, -1},
		{"negative big", []byte{0x9b, 0xf1, 0x59}, -624485},
		{"sign bit unset", []byte{0x3f}, 63},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.bytes)
			v, err := r.ReadLEB(32, true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestReadLEBOverflow(t *testing.T) {
	// Seven continuation bytes is past ceil(32/7).
	r := NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00})
	_, err := r.ReadLEB(32, false)
	assert.ErrorIs(t, err, errors.ErrLEBOverflow)
}

func TestReadLEBRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -42, 1 << 20, -(1 << 20), math.MaxInt32, math.MinInt32} {
		r := NewReader(sleb(v))
		got, err := r.ReadLEB(32, true)
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %d", v)
	}
}

func TestReadF32BitPattern(t *testing.T) {
	bits := math.Float32bits(1.5)
	r := NewReader([]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})
	f, err := r.ReadF32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f)
}

func TestReadF64BitPattern(t *testing.T) {
	bits := math.Float64bits(-2.25)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * i))
	}
	r := NewReader(b)
	f, err := r.ReadF64()
	require.NoError(t, err)
	assert.Equal(t, -2.25, f)
}

func TestReadName(t *testing.T) {
	r := NewReader(append(uleb(5), []byte("hello")...))
	s, err := r.ReadName()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}
