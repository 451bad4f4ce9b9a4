// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interp executes IR functions directly. It backs the CPU device and
// lets tests observe what generated code computes.
package interp

import (
	"context"
	"sync"

	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxDepth bounds the call depth of a single Call.
const DefaultMaxDepth = 512

// External implements a declared function in Go. The context is the one
// passed to Machine.Call, so externals can reach per-invocation state.
type External func(ctx context.Context, args []Value) (Value, error)

// Machine executes functions of one module. A Machine is safe for concurrent
// calls once its externals are registered.
type Machine struct {
	mod      *ir.Module
	layout   *ir.DataLayout
	maxDepth int

	mu        sync.RWMutex
	externals map[string]External
}

// Option configures a Machine.
type Option func(*Machine)

// WithExternal registers fn as the implementation of the declaration name.
func WithExternal(name string, fn External) Option {
	return func(m *Machine) {
		m.externals[name] = fn
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(m *Machine) {
		m.maxDepth = depth
	}
}

// New returns a machine for mod.
func New(mod *ir.Module, opts ...Option) *Machine {
	m := &Machine{
		mod:       mod,
		layout:    mod.Layout,
		maxDepth:  DefaultMaxDepth,
		externals: make(map[string]External),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Module returns the executed module.
func (m *Machine) Module() *ir.Module { return m.mod }

// Register adds or replaces an external.
func (m *Machine) Register(name string, fn External) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externals[name] = fn
}

func (m *Machine) external(name string) (External, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.externals[name]
	return fn, ok
}

// Call runs f with args and returns its result (the zero Value for void).
func (m *Machine) Call(ctx context.Context, f *ir.Func, args ...Value) (Value, error) {
	return m.call(ctx, f, args, 0)
}

// CallByName looks up the function called name and runs it.
func (m *Machine) CallByName(ctx context.Context, name string, args ...Value) (Value, error) {
	f := m.mod.Func(name)
	if f == nil {
		return Value{}, errors.Errorf("no function %q in module %q", name, m.mod.Name)
	}
	return m.Call(ctx, f, args...)
}

func (m *Machine) call(ctx context.Context, f *ir.Func, args []Value, depth int) (Value, error) {
	if len(args) != len(f.Params) {
		return Value{}, errors.Errorf("@%s called with %d args, want %d", f.Name, len(args), len(f.Params))
	}
	if f.IsDeclaration() {
		ext, ok := m.external(f.Name)
		if !ok {
			return Value{}, errors.Errorf("call to undefined function @%s", f.Name)
		}
		res, err := ext(ctx, args)
		return res, errors.WithMessagef(err, "external @%s", f.Name)
	}
	if depth >= m.maxDepth {
		return Value{}, errors.Errorf("call depth limit %d exceeded in @%s", m.maxDepth, f.Name)
	}
	fr := &frame{m: m, ctx: ctx, fn: f, depth: depth, vals: make(map[ir.Value]Value)}
	for i, p := range f.Params {
		fr.vals[p] = args[i]
	}
	res, err := fr.run()
	return res, errors.WithMessagef(err, "in @%s", f.Name)
}

type frame struct {
	m     *Machine
	ctx   context.Context
	fn    *ir.Func
	depth int
	vals  map[ir.Value]Value
}

func (fr *frame) run() (Value, error) {
	block := fr.fn.EntryBlock()
	for {
		if err := fr.ctx.Err(); err != nil {
			return Value{}, err
		}
		var next *ir.Block
		for _, inst := range block.Insts {
			switch inst.Op {
			case ir.OpBr:
				next = inst.Succs[0]
			case ir.OpCondBr:
				if fr.get(inst.Operands[0]).bool() {
					next = inst.Succs[0]
				} else {
					next = inst.Succs[1]
				}
			case ir.OpRet:
				if len(inst.Operands) == 0 {
					return Value{}, nil
				}
				return fr.get(inst.Operands[0]), nil
			default:
				v, err := fr.exec(inst)
				if err != nil {
					return Value{}, errors.WithMessagef(err, "block %q: %s", block.Name, inst.Op)
				}
				if inst.HasResult() {
					fr.vals[inst] = v
				}
			}
		}
		if next == nil {
			return Value{}, errors.Errorf("block %q falls off its end", block.Name)
		}
		block = next
	}
}

func (fr *frame) get(v ir.Value) Value {
	switch v := v.(type) {
	case *ir.ConstInt:
		return Int(v.V)
	case *ir.ConstNull:
		return Value{}
	case *ir.Func:
		return Ptr(Pointer{Fn: v})
	}
	return fr.vals[v]
}

func (fr *frame) exec(inst *ir.Inst) (Value, error) {
	dl := fr.m.layout
	ops := inst.Operands
	switch {
	case inst.Op == ir.OpAlloca:
		count := uint64(1)
		if len(ops) > 0 {
			count = fr.get(ops[0]).Bits
		}
		elem := dl.SizeOf(inst.ElemType)
		if elem != 0 && count > MaxObjectSize/elem {
			return Value{}, errors.Wrapf(ErrObjectTooLarge, "alloca of %d x %s", count, inst.ElemType)
		}
		obj, err := AllocObject(fr.fn.Name+"."+inst.Name, count*elem)
		if err != nil {
			return Value{}, err
		}
		return Ptr(Pointer{Obj: obj}), nil

	case inst.Op == ir.OpLoad:
		return fr.m.load(inst.Typ, fr.get(ops[0]).Ptr)

	case inst.Op == ir.OpStore:
		return Value{}, fr.m.store(ops[0].Type(), fr.get(ops[0]), fr.get(ops[1]).Ptr)

	case inst.Op == ir.OpGEP:
		return fr.gep(inst)

	case inst.Op.IsBinary():
		it, _ := ir.AsInt(inst.Typ)
		x, y := fr.get(ops[0]).Bits, fr.get(ops[1]).Bits
		r, err := arith(inst.Op, x, y, it)
		return Int(r & it.Mask()), err

	case inst.Op == ir.OpICmp:
		x, y := fr.get(ops[0]).Bits, fr.get(ops[1]).Bits
		return Int(boolBits(compare(inst.Pred, x, y))), nil

	case inst.Op == ir.OpSelect:
		if fr.get(ops[0]).bool() {
			return fr.get(ops[1]), nil
		}
		return fr.get(ops[2]), nil

	case inst.Op == ir.OpTrunc, inst.Op == ir.OpZExt:
		it, _ := ir.AsInt(inst.Typ)
		return Int(fr.get(ops[0]).Bits & it.Mask()), nil

	case inst.Op == ir.OpAddrSpaceCast:
		return fr.get(ops[0]), nil

	case inst.Op == ir.OpCall:
		args := make([]Value, len(ops))
		for i, op := range ops {
			args[i] = fr.get(op)
		}
		if klog.V(4).Enabled() {
			klog.Infof("interp: @%s calls @%s", fr.fn.Name, inst.Callee.Name)
		}
		return fr.m.call(fr.ctx, inst.Callee, args, fr.depth+1)

	case inst.Op == ir.OpFence:
		// Object locks already order every access.
		return Value{}, nil
	}
	return Value{}, errors.Errorf("unsupported instruction %s", inst.Op)
}

func (fr *frame) gep(inst *ir.Inst) (Value, error) {
	dl := fr.m.layout
	base := fr.get(inst.Operands[0]).Ptr
	if base.IsNull() {
		return Value{}, errors.New("getelementptr on null pointer")
	}
	idx := inst.Operands[1:]
	off := uint64(signed(fr.get(idx[0]).Bits, idx[0].Type()) * int64(dl.SizeOf(inst.ElemType)))
	cur := inst.ElemType
	for _, ix := range idx[1:] {
		i := signed(fr.get(ix).Bits, ix.Type())
		switch t := cur.(type) {
		case *ir.StructType:
			if i < 0 || int(i) >= len(t.Fields) {
				return Value{}, errors.Errorf("field %d out of range for %s", i, t)
			}
			off += dl.OffsetOf(t, int(i))
			cur = t.Fields[i]
		case *ir.ArrayType:
			off += uint64(i * int64(dl.SizeOf(t.Elem)))
			cur = t.Elem
		default:
			return Value{}, errors.Errorf("cannot index into %s", cur)
		}
	}
	return Ptr(base.Add(off)), nil
}

func (m *Machine) load(t ir.Type, p Pointer) (Value, error) {
	if p.Obj == nil {
		return Value{}, errors.Errorf("load of %s from %s", t, p)
	}
	switch t := t.(type) {
	case *ir.PointerType:
		q, err := p.Obj.ReadPointer(p.Off)
		return Ptr(q), err
	case *ir.IntType:
		v, err := p.Obj.ReadUint(p.Off, m.layout.SizeOf(t))
		return Int(v & t.Mask()), err
	}
	return Value{}, errors.Errorf("load of non-scalar type %s", t)
}

func (m *Machine) store(t ir.Type, v Value, p Pointer) error {
	if p.Obj == nil {
		return errors.Errorf("store of %s to %s", t, p)
	}
	switch t := t.(type) {
	case *ir.PointerType:
		return p.Obj.WritePointer(p.Off, v.Ptr)
	case *ir.IntType:
		return p.Obj.WriteUint(p.Off, m.layout.SizeOf(t), v.Bits&t.Mask())
	}
	return errors.Errorf("store of non-scalar type %s", t)
}

func arith(op ir.Opcode, x, y uint64, t *ir.IntType) (uint64, error) {
	switch op {
	case ir.OpAdd:
		return x + y, nil
	case ir.OpSub:
		return x - y, nil
	case ir.OpMul:
		return x * y, nil
	case ir.OpUDiv:
		if y == 0 {
			return 0, errors.New("division by zero")
		}
		return x / y, nil
	case ir.OpURem:
		if y == 0 {
			return 0, errors.New("remainder by zero")
		}
		return x % y, nil
	case ir.OpAnd:
		return x & y, nil
	case ir.OpOr:
		return x | y, nil
	case ir.OpShl:
		if y >= uint64(t.Bits) {
			return 0, nil
		}
		return x << y, nil
	case ir.OpLShr:
		if y >= uint64(t.Bits) {
			return 0, nil
		}
		return x >> y, nil
	}
	return 0, errors.Errorf("unsupported binary op %s", op)
}

func compare(pred ir.IntPred, x, y uint64) bool {
	switch pred {
	case ir.PredEQ:
		return x == y
	case ir.PredNE:
		return x != y
	case ir.PredULT:
		return x < y
	case ir.PredULE:
		return x <= y
	case ir.PredUGT:
		return x > y
	case ir.PredUGE:
		return x >= y
	}
	return false
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signed(bits uint64, t ir.Type) int64 {
	it, ok := ir.AsInt(t)
	if !ok {
		return int64(bits)
	}
	return ir.NewConstInt(it, int64(bits)).Signed()
}
