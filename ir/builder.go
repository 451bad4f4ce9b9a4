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

package ir

import "fmt"

// Builder appends instructions at the end of a block.
type Builder struct {
	block *Block

	// loc is attached to every instruction created while set.
	loc *DebugLoc
}

// BuilderOption configures the Builder.
type BuilderOption func(*Builder)

// WithDebugLoc attaches loc to every instruction the builder creates.
func WithDebugLoc(loc *DebugLoc) BuilderOption {
	return func(b *Builder) {
		b.loc = loc
	}
}

// NewBuilder creates a builder inserting at the end of block.
func NewBuilder(block *Block, opts ...BuilderOption) *Builder {
	b := &Builder{block: block}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetInsertPoint moves the builder to the end of block.
func (b *Builder) SetInsertPoint(block *Block) { b.block = block }

// Block returns the current insertion block.
func (b *Builder) Block() *Block { return b.block }

// SetDebugLoc changes the location attached to new instructions.
func (b *Builder) SetDebugLoc(loc *DebugLoc) { b.loc = loc }

func (b *Builder) insert(inst *Inst) *Inst {
	if inst.Loc == nil {
		inst.Loc = b.loc
	}
	b.block.Append(inst)
	return inst
}

// Alloca allocates one t, or count elements of t when count is non-nil.
func (b *Builder) Alloca(t Type, count Value, name string) *Inst {
	inst := &Inst{Op: OpAlloca, Name: name, Typ: Ptr, ElemType: t}
	if count != nil {
		inst.Operands = []Value{count}
	}
	return b.insert(inst)
}

// Load reads a t from ptr.
func (b *Builder) Load(t Type, ptr Value, name string) *Inst {
	return b.insert(&Inst{Op: OpLoad, Name: name, Typ: t, Operands: []Value{ptr}})
}

// Store writes v to ptr.
func (b *Builder) Store(v, ptr Value) *Inst {
	return b.insert(&Inst{Op: OpStore, Typ: Void, Operands: []Value{v, ptr}})
}

// GEP computes the address of elem[indices...] starting at base.
func (b *Builder) GEP(elem Type, base Value, name string, indices ...Value) *Inst {
	resTy := base.Type()
	ops := append([]Value{base}, indices...)
	return b.insert(&Inst{Op: OpGEP, Name: name, Typ: resTy, ElemType: elem, Operands: ops})
}

// StructGEP addresses field idx of the struct st pointed to by base.
func (b *Builder) StructGEP(st *StructType, base Value, idx int, name string) *Inst {
	return b.GEP(st, base, name, ConstI32(0), ConstI32(int64(idx)))
}

// ArrayGEP addresses element idx of the array arr pointed to by base.
func (b *Builder) ArrayGEP(arr *ArrayType, base Value, idx Value, name string) *Inst {
	return b.GEP(arr, base, name, ConstI64(0), idx)
}

func (b *Builder) binary(op Opcode, x, y Value, name string) *Inst {
	return b.insert(&Inst{Op: op, Name: name, Typ: x.Type(), Operands: []Value{x, y}})
}

func (b *Builder) Add(x, y Value, name string) *Inst  { return b.binary(OpAdd, x, y, name) }
func (b *Builder) Sub(x, y Value, name string) *Inst  { return b.binary(OpSub, x, y, name) }
func (b *Builder) Mul(x, y Value, name string) *Inst  { return b.binary(OpMul, x, y, name) }
func (b *Builder) UDiv(x, y Value, name string) *Inst { return b.binary(OpUDiv, x, y, name) }
func (b *Builder) URem(x, y Value, name string) *Inst { return b.binary(OpURem, x, y, name) }
func (b *Builder) And(x, y Value, name string) *Inst  { return b.binary(OpAnd, x, y, name) }
func (b *Builder) Or(x, y Value, name string) *Inst   { return b.binary(OpOr, x, y, name) }
func (b *Builder) Shl(x, y Value, name string) *Inst  { return b.binary(OpShl, x, y, name) }
func (b *Builder) LShr(x, y Value, name string) *Inst { return b.binary(OpLShr, x, y, name) }

// ICmp compares x and y.
func (b *Builder) ICmp(pred IntPred, x, y Value, name string) *Inst {
	return b.insert(&Inst{Op: OpICmp, Name: name, Typ: I1, Pred: pred, Operands: []Value{x, y}})
}

// Select picks t when cond is true, f otherwise.
func (b *Builder) Select(cond, t, f Value, name string) *Inst {
	return b.insert(&Inst{Op: OpSelect, Name: name, Typ: t.Type(), Operands: []Value{cond, t, f}})
}

// Trunc narrows v to t.
func (b *Builder) Trunc(v Value, t *IntType, name string) *Inst {
	return b.insert(&Inst{Op: OpTrunc, Name: name, Typ: t, Operands: []Value{v}})
}

// ZExt zero-extends v to t.
func (b *Builder) ZExt(v Value, t *IntType, name string) *Inst {
	return b.insert(&Inst{Op: OpZExt, Name: name, Typ: t, Operands: []Value{v}})
}

// ZExtOrTrunc converts v to t, returning v unchanged if it already has type t.
func (b *Builder) ZExtOrTrunc(v Value, t *IntType, name string) Value {
	vt, ok := AsInt(v.Type())
	if !ok {
		panic(fmt.Sprintf("ir: ZExtOrTrunc of non-integer %s", v.Type()))
	}
	switch {
	case vt.Bits < t.Bits:
		return b.ZExt(v, t, name)
	case vt.Bits > t.Bits:
		return b.Trunc(v, t, name)
	default:
		return v
	}
}

// AddrSpaceCast converts the pointer v to the pointer type t.
func (b *Builder) AddrSpaceCast(v Value, t *PointerType, name string) *Inst {
	return b.insert(&Inst{Op: OpAddrSpaceCast, Name: name, Typ: t, Operands: []Value{v}})
}

// Call calls f with args.
func (b *Builder) Call(f *Func, args ...Value) *Inst {
	return b.insert(&Inst{Op: OpCall, Typ: f.ReturnType(), Callee: f, Operands: args})
}

// Fence emits a memory fence with the given semantics mask.
func (b *Builder) Fence(semantics uint32) *Inst {
	return b.insert(&Inst{Op: OpFence, Typ: Void, Semantics: semantics})
}

// Br jumps unconditionally to target.
func (b *Builder) Br(target *Block) *Inst {
	return b.insert(&Inst{Op: OpBr, Typ: Void, Succs: []*Block{target}})
}

// CondBr jumps to t when cond is true, f otherwise.
func (b *Builder) CondBr(cond Value, t, f *Block) *Inst {
	return b.insert(&Inst{Op: OpCondBr, Typ: Void, Operands: []Value{cond}, Succs: []*Block{t, f}})
}

// Ret returns v.
func (b *Builder) Ret(v Value) *Inst {
	return b.insert(&Inst{Op: OpRet, Typ: Void, Operands: []Value{v}})
}

// RetVoid returns from a void function.
func (b *Builder) RetVoid() *Inst {
	return b.insert(&Inst{Op: OpRet, Typ: Void})
}
