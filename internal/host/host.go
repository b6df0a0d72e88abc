// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

// Package host provides the import functions a module may link against:
// the core.DEBUG/writeline/readline trio. The engine hands arguments over
// in left-to-right source order and pushes returned results left-to-right.
package host

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/shiqicao/warpy/internal/errors"
	"github.com/shiqicao/warpy/internal/logger"
	"github.com/shiqicao/warpy/internal/wasm"
)

const readlinePrompt = "user> "

// Host implements the import callback against a set of streams. The
// streams are injectable so tests can capture them; New wires the process
// defaults.
type Host struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	stdin *bufio.Reader
}

func New() *Host {
	return &Host{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Call dispatches an import by module.field name. Unknown imports are a
// link error.
func (h *Host) Call(mem *wasm.Memory, module, field string, args []wasm.Value) ([]wasm.Value, error) {
	switch module + "." + field {
	case "core.DEBUG":
		return h.debug(args)
	case "core.writeline":
		return h.writeline(mem, args)
	case "core.readline":
		return h.readline(mem, args)
	}
	return nil, errors.WrapUnknownImport(module, field)
}

// debug prints one or two integers to standard error.
func (h *Host) debug(args []wasm.Value) ([]wasm.Value, error) {
	switch len(args) {
	case 1:
		fmt.Fprintf(h.Err, "DEBUG: %d\n", args[0].I32())
	case 2:
		fmt.Fprintf(h.Err, "DEBUG: %d %d\n", args[0].I32(), args[1].I32())
	default:
		return nil, fmt.Errorf("%w: DEBUG called with %d args", errors.ErrUnknownImport, len(args))
	}
	return nil, nil
}

// writeline reads a 4-byte little-endian length at addr, then that many
// bytes of UTF-8 payload, and writes them as a line to standard output.
func (h *Host) writeline(mem *wasm.Memory, args []wasm.Value) ([]wasm.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: writeline wants 1 arg", errors.ErrUnknownImport)
	}
	addr := int(args[0].I32())
	length, err := mem.ReadI32(addr)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.WrapMemoryOutOfBounds(addr, mem.Len())
	}
	logger.Logger.Debug("writeline", "addr", addr, "length", length)

	payload, err := mem.ReadBytes(addr+4, int(length))
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(h.Out, string(payload))
	return nil, nil
}

// readline prompts for a line on standard input, truncates it to
// max_length bytes, stores a 4-byte length prefix at addr with the payload
// at addr+4, and returns the length. EOF returns -1.
func (h *Host) readline(mem *wasm.Memory, args []wasm.Value) ([]wasm.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: readline wants 2 args", errors.ErrUnknownImport)
	}
	addr := int(args[0].I32())
	maxLength := int(args[1].I32())
	if addr < 0 || maxLength < 0 {
		return nil, errors.WrapMemoryOutOfBounds(addr, mem.Len())
	}
	logger.Logger.Debug("readline", "addr", addr, "max_length", maxLength)

	fmt.Fprint(h.Out, readlinePrompt)
	line, err := h.readLine()
	if err == io.EOF {
		return []wasm.Value{wasm.I32(-1)}, nil
	}
	if err != nil {
		return nil, err
	}

	if len(line) > maxLength {
		line = line[:maxLength]
	}
	if err := mem.WriteI32(addr, 0); err != nil {
		return nil, err
	}
	if err := mem.WriteBytes(addr+4, []byte(line)); err != nil {
		return nil, err
	}
	if err := mem.WriteI32(addr, int32(len(line))); err != nil {
		return nil, err
	}
	return []wasm.Value{wasm.I32(int32(len(line)))}, nil
}

func (h *Host) readLine() (string, error) {
	if h.stdin == nil {
		h.stdin = bufio.NewReader(h.In)
	}
	line, err := h.stdin.ReadString('\n')
	if err != nil {
		// EOF before the newline discards any partial line.
		return "", err
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}
