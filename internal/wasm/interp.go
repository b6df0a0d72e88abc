// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/shiqicao/warpy/internal/errors"
	"github.com/shiqicao/warpy/internal/logger"
)

// Run resets the runtime stacks, parses the argument strings as signed
// 32-bit integers, resolves the named export and executes it. The result
// is nil when the entry function produces no value.
func (m *Module) Run(name string, args []string) (*Value, error) {
	m.stack = m.stack[:0]
	m.locals = m.locals[:0]
	m.sigstack = m.sigstack[:0]
	m.retstack = m.retstack[:0]

	fargs := make([]Value, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid i32 argument %q: %w", arg, err)
		}
		fargs = append(fargs, I32(int32(n)))
	}

	exp, ok := m.exports[name]
	if !ok {
		return nil, errors.WrapUnknownExport(name)
	}
	if err := m.callSetup(exp.Index, fargs); err != nil {
		return nil, err
	}

	logger.Logger.Info("running function", "name", name, "index", exp.Index)
	return m.dispatch()
}

// callSetup enters a native function: the function goes on the signature
// stack, the current reader position on the return-address stack, and the
// reader moves to the function start. Locals are pushed zero-initialized
// in reverse declaration order, then arguments (given in source order) in
// reverse parameter order, so get_local n resolves to locals[len-1-n] and
// parameter 0 sits on top.
func (m *Module) callSetup(fidx int, args []Value) error {
	if fidx < 0 || fidx >= len(m.functions) {
		return fmt.Errorf("%w: function %d", errors.ErrUnknownExport, fidx)
	}
	fn := m.functions[fidx]
	t := fn.Type

	m.sigstack = append(m.sigstack, fn)
	m.retstack = append(m.retstack, m.rdr.Pos)
	m.rdr.Pos = fn.Start

	for i := len(fn.Locals) - 1; i >= 0; i-- {
		v, err := zeroValue(fn.Locals[i])
		if err != nil {
			return err
		}
		m.locals = append(m.locals, v)
	}

	if len(args) != len(t.Params) {
		return fmt.Errorf("%w: %d args for %d params", errors.ErrCallSignature, len(args), len(t.Params))
	}
	for i := len(t.Params) - 1; i >= 0; i-- {
		if args[i].Kind != t.Params[i] {
			return fmt.Errorf("%w: param %d wants %s, got %s",
				errors.ErrCallSignature, i, t.Params[i], args[i].Kind)
		}
		m.locals = append(m.locals, args[i])
	}
	return nil
}

func (m *Module) pushOperand(v Value) {
	m.stack = append(m.stack, v)
}

func (m *Module) popOperand() (Value, error) {
	if len(m.stack) == 0 {
		return Value{}, fmt.Errorf("%w: operand stack", errors.ErrStackUnderflow)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *Module) popKind(k ValueKind, op string) (Value, error) {
	v, err := m.popOperand()
	if err != nil {
		return Value{}, err
	}
	if v.Kind != k {
		return Value{}, fmt.Errorf("%w: %s wants %s, got %s", errors.ErrOperandKind, op, k, v.Kind)
	}
	return v, nil
}

// popLocals removes n entries from the local stack.
func (m *Module) popLocals(n int) error {
	if n > len(m.locals) {
		return fmt.Errorf("%w: local stack", errors.ErrStackUnderflow)
	}
	m.locals = m.locals[:len(m.locals)-n]
	return nil
}

func (m *Module) popScope() (scope, error) {
	if len(m.sigstack) == 0 {
		return nil, fmt.Errorf("%w: signature stack", errors.ErrStackUnderflow)
	}
	s := m.sigstack[len(m.sigstack)-1]
	m.sigstack = m.sigstack[:len(m.sigstack)-1]
	return s, nil
}

// scopeSlots is the number of local-stack entries a scope contributed.
func scopeSlots(s scope) int {
	return len(s.blockType().Params) + len(s.localKinds())
}

// dispatch is the instruction loop. It reads one opcode at a time from the
// module reader and executes it until the top-level call returns or an
// error unwinds everything.
func (m *Module) dispatch() (*Value, error) {
	for !m.rdr.EOF() {
		curPos := m.rdr.Pos
		opcode, err := m.rdr.ReadByte()
		if err != nil {
			return nil, err
		}
		if logger.Logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Logger.Debug("exec", "pos", fmt.Sprintf("0x%x", curPos),
				"op", OpName(opcode), "stack", len(m.stack), "sigs", len(m.sigstack))
		}

		switch opcode {
		case opUnreachable:
			return nil, errors.ErrUnreachable

		case opBlock, opLoop:
			if _, err := m.rdr.ReadByte(); err != nil { // block type, ignored at runtime
				return nil, err
			}
			block, ok := m.blockMap[curPos]
			if !ok {
				return nil, errors.WrapBadOpcode(curPos, opcode)
			}
			m.sigstack = append(m.sigstack, block)

		case opIf:
			if _, err := m.rdr.ReadByte(); err != nil {
				return nil, err
			}
			block, ok := m.blockMap[curPos]
			if !ok {
				return nil, errors.WrapBadOpcode(curPos, opcode)
			}
			cond, err := m.popKind(KindI32, "if")
			if err != nil {
				return nil, err
			}
			if cond.I32() != 0 {
				m.sigstack = append(m.sigstack, block)
				break
			}
			// False: enter the paired else if there is one, otherwise
			// jump past the construct.
			if tail, ok := m.blockMap[block.End]; ok && tail.Kind == BlockElse {
				m.sigstack = append(m.sigstack, tail)
				m.rdr.Pos = tail.Start + 1
			} else {
				m.rdr.Pos = block.LabelAddr
			}

		case opElse:
			// End of a taken if arm: close the if scope and resume past
			// the construct's terminating end.
			res, fromFunc, err := m.closeScope(opcode)
			if err != nil {
				return nil, err
			}
			if fromFunc {
				return nil, fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedElse, curPos)
			}
			if res != nil {
				m.pushOperand(*res)
			}
			tail, ok := m.blockMap[curPos]
			if !ok || tail.Kind != BlockElse {
				return nil, fmt.Errorf("%w: at 0x%x", errors.ErrUnmatchedElse, curPos)
			}
			m.rdr.Pos = tail.End + 1

		case opEnd:
			res, fromFunc, err := m.closeScope(opcode)
			if err != nil {
				return nil, err
			}
			if fromFunc {
				// Function end: pop the return address. An empty
				// return-address stack means the top-level invocation
				// is complete.
				if len(m.retstack) == 0 {
					return nil, fmt.Errorf("%w: return-address stack", errors.ErrStackUnderflow)
				}
				addr := m.retstack[len(m.retstack)-1]
				m.retstack = m.retstack[:len(m.retstack)-1]
				if len(m.retstack) == 0 {
					return res, nil
				}
				m.rdr.Pos = addr
				if res != nil {
					m.pushOperand(*res)
				}
			} else if res != nil {
				m.pushOperand(*res)
			}

		case opBr:
			depth, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			if err := m.doBranch(int(depth)); err != nil {
				return nil, err
			}

		case opBrIf:
			depth, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			cond, err := m.popKind(KindI32, "br_if")
			if err != nil {
				return nil, err
			}
			if cond.I32() != 0 {
				if err := m.doBranch(int(depth)); err != nil {
					return nil, err
				}
			}

		case opBrTable:
			return nil, errors.WrapUnimplemented("br_table")

		case opReturn:
			// Pop nested blocks (and their locals) until the current
			// function is exposed, then jump to its end.
			for {
				if len(m.sigstack) == 0 {
					return nil, fmt.Errorf("%w: signature stack", errors.ErrStackUnderflow)
				}
				if _, ok := m.sigstack[len(m.sigstack)-1].(*Function); ok {
					break
				}
				s, _ := m.popScope()
				if err := m.popLocals(scopeSlots(s)); err != nil {
					return nil, err
				}
			}
			m.rdr.Pos = m.sigstack[len(m.sigstack)-1].label()

		case opNop:

		case opDrop:
			if _, err := m.popOperand(); err != nil {
				return nil, err
			}

		case opSelect:
			return nil, errors.WrapUnimplemented("select")

		case opI32Const:
			n, err := m.rdr.ReadLEB(32, true)
			if err != nil {
				return nil, err
			}
			m.pushOperand(I32(int32(n)))

		case opI64Const:
			n, err := m.rdr.ReadLEB(64, true)
			if err != nil {
				return nil, err
			}
			m.pushOperand(I64(n))

		case opF64Const:
			f, err := m.rdr.ReadF64()
			if err != nil {
				return nil, err
			}
			m.pushOperand(F64(f))

		case opF32Const:
			f, err := m.rdr.ReadF32()
			if err != nil {
				return nil, err
			}
			m.pushOperand(F32(f))

		case opGetLocal:
			n, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			v, err := m.local(int(n))
			if err != nil {
				return nil, err
			}
			m.pushOperand(v)

		case opSetLocal:
			n, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			v, err := m.popOperand()
			if err != nil {
				return nil, err
			}
			if err := m.setLocal(int(n), v); err != nil {
				return nil, err
			}

		case opTeeLocal:
			n, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			if len(m.stack) == 0 {
				return nil, fmt.Errorf("%w: operand stack", errors.ErrStackUnderflow)
			}
			if err := m.setLocal(int(n), m.stack[len(m.stack)-1]); err != nil {
				return nil, err
			}

		case opCall:
			fidx, err := m.rdr.ReadLEB(32, false)
			if err != nil {
				return nil, err
			}
			if err := m.call(int(fidx)); err != nil {
				return nil, err
			}

		case opCallInd:
			return nil, errors.WrapUnimplemented("call_indirect")

		case opGetGlobal, opSetGlobal:
			return nil, errors.WrapUnimplemented(OpName(opcode))

		case opCurrentMemory, opGrowMemory:
			return nil, errors.WrapUnimplemented(OpName(opcode))

		case opI32Add, opI32Sub, opI32Mul, opI32Eq, opI32Ne, opI32LtS:
			b, err := m.popKind(KindI32, OpName(opcode))
			if err != nil {
				return nil, err
			}
			a, err := m.popKind(KindI32, OpName(opcode))
			if err != nil {
				return nil, err
			}
			var res Value
			switch opcode {
			case opI32Add:
				res = I32(a.I32() + b.I32())
			case opI32Sub:
				res = I32(a.I32() - b.I32())
			case opI32Mul:
				res = I32(a.I32() * b.I32())
			case opI32Eq:
				res = boolI32(a.I32() == b.I32())
			case opI32Ne:
				res = boolI32(a.I32() != b.I32())
			case opI32LtS:
				res = boolI32(a.I32() < b.I32())
			}
			m.pushOperand(res)

		case opI64Add, opI64Sub, opI64Mul, opI64DivS, opI64GtS:
			b, err := m.popKind(KindI64, OpName(opcode))
			if err != nil {
				return nil, err
			}
			a, err := m.popKind(KindI64, OpName(opcode))
			if err != nil {
				return nil, err
			}
			var res Value
			switch opcode {
			case opI64Add:
				res = I64(a.I64() + b.I64())
			case opI64Sub:
				res = I64(a.I64() - b.I64())
			case opI64Mul:
				res = I64(a.I64() * b.I64())
			case opI64DivS:
				if b.I64() == 0 {
					return nil, errors.ErrDivideByZero
				}
				if a.I64() == math.MinInt64 && b.I64() == -1 {
					// Quotient overflows; wrap like the operands do.
					res = I64(math.MinInt64)
				} else {
					res = I64(a.I64() / b.I64())
				}
			case opI64GtS:
				res = boolI32(a.I64() > b.I64())
			}
			m.pushOperand(res)

		case opI64ExtendSI32:
			a, err := m.popKind(KindI32, "i64.extend_s/i32")
			if err != nil {
				return nil, err
			}
			m.pushOperand(I64(int64(a.I32())))

		case opF64ConvertSI64:
			a, err := m.popKind(KindI64, "f64.convert_s/i64")
			if err != nil {
				return nil, err
			}
			m.pushOperand(F64(float64(a.I64())))

		default:
			if OpName(opcode) != "" {
				// In the operator table but reserved in this version.
				return nil, errors.WrapUnimplemented(OpName(opcode))
			}
			return nil, errors.WrapBadOpcode(curPos, opcode)
		}
	}
	return nil, nil
}

// closeScope handles end (and else acting as an end): pop the signature
// stack, validate and capture the single result if the scope declares one,
// and drop the scope's local-stack entries. fromFunc reports whether the
// popped scope was a function frame.
func (m *Module) closeScope(opcode byte) (*Value, bool, error) {
	s, err := m.popScope()
	if err != nil {
		return nil, false, err
	}
	t := s.blockType()

	var res *Value
	if len(t.Results) == 1 {
		v, err := m.popOperand()
		if err != nil {
			return nil, false, err
		}
		if v.Kind != t.Results[0] {
			return nil, false, fmt.Errorf("%w: %s wants %s, got %s",
				errors.ErrResultSignature, OpName(opcode), t.Results[0], v.Kind)
		}
		res = &v
	}

	if err := m.popLocals(scopeSlots(s)); err != nil {
		return nil, false, err
	}
	_, fromFunc := s.(*Function)
	return res, fromFunc, nil
}

// doBranch unwinds depth+1 levels of the signature stack, dropping the
// locals each level contributed, and resumes at the final block's label
// address. Branching out of the function itself is reserved.
func (m *Module) doBranch(depth int) error {
	s, err := m.popScope()
	if err != nil {
		return err
	}
	for r := 0; r <= depth; r++ {
		if err := m.popLocals(scopeSlots(s)); err != nil {
			return err
		}
		if r < depth {
			if s, err = m.popScope(); err != nil {
				return err
			}
		}
	}
	if _, ok := s.(*Function); ok {
		return errors.WrapUnimplemented("br* in function")
	}
	m.rdr.Pos = s.label()
	return nil
}

// call executes a call instruction: pop the arguments, then either hand
// off to the host bridge (imports) or enter the function body.
func (m *Module) call(fidx int) error {
	if fidx < 0 || fidx >= len(m.functions) {
		return fmt.Errorf("%w: function %d", errors.ErrUnknownExport, fidx)
	}
	fn := m.functions[fidx]
	t := fn.Type

	// Operands pop in reverse source order; flip them back.
	args := make([]Value, len(t.Params))
	for i := len(t.Params) - 1; i >= 0; i-- {
		v, err := m.popOperand()
		if err != nil {
			return err
		}
		if v.Kind != t.Params[i] {
			return fmt.Errorf("%w: param %d wants %s, got %s",
				errors.ErrCallSignature, i, t.Params[i], v.Kind)
		}
		args[i] = v
	}

	if fn.Imported {
		logger.Logger.Debug("calling import", "module", fn.Module, "field", fn.Field)
		results, err := m.host(m.memory, fn.Module, fn.Field, args)
		if err != nil {
			return err
		}
		if len(results) != len(t.Results) {
			return fmt.Errorf("%w: %d results for %d declared",
				errors.ErrReturnSignature, len(results), len(t.Results))
		}
		for i, r := range results {
			if r.Kind != t.Results[i] {
				return fmt.Errorf("%w: result %d wants %s, got %s",
					errors.ErrReturnSignature, i, t.Results[i], r.Kind)
			}
			m.pushOperand(r)
		}
		return nil
	}

	logger.Logger.Debug("calling function", "index", fidx)
	return m.callSetup(fidx, args)
}

// local reads local n, counted from the top of the local stack.
func (m *Module) local(n int) (Value, error) {
	idx := len(m.locals) - 1 - n
	if idx < 0 {
		return Value{}, fmt.Errorf("%w: local %d", errors.ErrStackUnderflow, n)
	}
	return m.locals[idx], nil
}

func (m *Module) setLocal(n int, v Value) error {
	idx := len(m.locals) - 1 - n
	if idx < 0 {
		return fmt.Errorf("%w: local %d", errors.ErrStackUnderflow, n)
	}
	m.locals[idx] = v
	return nil
}

func boolI32(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}
