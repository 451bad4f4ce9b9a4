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

// Package kernels builds sample work-item kernels the way a front-end would
// emit them: plain functions calling the mux builtins with their unlowered
// signatures.
package kernels

import (
	"encoding/binary"

	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/compiler/passes"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// Names of the sample kernels.
const (
	AddOne      = "add_one"
	Scale       = "scale"
	CountVisits = "count_visits"
	Affine      = "affine"
	LocalSum    = "local_sum"
)

// Builder adds one kernel to m and returns it.
type Builder func(m *ir.Module) (*ir.Func, error)

var registry = map[string]Builder{
	AddOne:      BuildAddOne,
	Scale:       BuildScale,
	CountVisits: BuildCountVisits,
	Affine:      BuildAffine,
	LocalSum:    BuildLocalSum,
}

// Names returns the registered kernel names in a fixed order.
func Names() []string {
	return []string{AddOne, Scale, CountVisits, Affine, LocalSum}
}

// Build adds the named kernels to a new module.
func Build(moduleName string, names ...string) (*ir.Module, error) {
	m := ir.NewModule(moduleName)
	for _, name := range names {
		build, ok := registry[name]
		if !ok {
			return nil, errors.Errorf("unknown kernel %q", name)
		}
		if _, err := build(m); err != nil {
			return nil, errors.WithMessagef(err, "building kernel %q", name)
		}
	}
	return m, nil
}

// UsesBarrier reports whether the named kernel synchronizes its work-group.
func UsesBarrier(name string) bool { return name == LocalSum }

func declare(m *ir.Module, id builtins.ID) (*ir.Func, error) {
	return m.GetOrInsertFunc(id.Name(), id.Signature())
}

// newKernel creates a kernel with a debug subprogram and returns a builder
// positioned in its entry block.
func newKernel(m *ir.Module, name string, line int, params ...*ir.Param) (*ir.Func, *ir.Builder) {
	f := m.NewFunc(name, ir.Void, params...)
	f.Subprogram = &ir.Subprogram{Name: name, File: "kernels.cl", Line: line}
	passes.SetKernel(f)
	b := ir.NewBuilder(f.NewBlock("entry"), ir.WithDebugLoc(&ir.DebugLoc{Line: line + 1, Scope: f.Subprogram}))
	return f, b
}

// BuildAddOne adds
//
//	kernel void add_one(global int *buf) { buf[get_global_id(0)] += 1; }
func BuildAddOne(m *ir.Module) (*ir.Func, error) {
	gid, err := declare(m, builtins.GetGlobalID)
	if err != nil {
		return nil, err
	}
	f, b := newKernel(m, AddOne, 1, ir.NewParam("buf", ir.NewPointer(ir.AddrSpaceGlobal)))
	id := b.Call(gid, ir.ConstI32(0))
	p := b.GEP(ir.I32, f.Params[0], "p", id)
	b.Store(b.Add(b.Load(ir.I32, p, "v"), ir.NewConstInt(ir.I32, 1), "inc"), p)
	b.RetVoid()
	return f, nil
}

// BuildScale adds
//
//	kernel void scale(global int *buf, int factor) { buf[get_global_id(0)] *= factor; }
func BuildScale(m *ir.Module) (*ir.Func, error) {
	gid, err := declare(m, builtins.GetGlobalID)
	if err != nil {
		return nil, err
	}
	f, b := newKernel(m, Scale, 10,
		ir.NewParam("buf", ir.NewPointer(ir.AddrSpaceGlobal)),
		ir.NewParam("factor", ir.I32))
	id := b.Call(gid, ir.ConstI32(0))
	p := b.GEP(ir.I32, f.Params[0], "p", id)
	b.Store(b.Mul(b.Load(ir.I32, p, "v"), f.Params[1], "scaled"), p)
	b.RetVoid()
	return f, nil
}

// BuildCountVisits adds a kernel incrementing counts[i] for the linear
// global index i of every work-item, through a helper function:
//
//	size_t linear_global_id(void);
//	kernel void count_visits(global int *counts) { counts[linear_global_id()]++; }
func BuildCountVisits(m *ir.Module) (*ir.Func, error) {
	helper, err := buildLinearGlobalID(m)
	if err != nil {
		return nil, err
	}
	f, b := newKernel(m, CountVisits, 20, ir.NewParam("counts", ir.NewPointer(ir.AddrSpaceGlobal)))
	idx := b.Call(helper)
	p := b.GEP(ir.I32, f.Params[0], "p", idx)
	b.Store(b.Add(b.Load(ir.I32, p, "n"), ir.NewConstInt(ir.I32, 1), "inc"), p)
	b.RetVoid()
	return f, nil
}

func buildLinearGlobalID(m *ir.Module) (*ir.Func, error) {
	const name = "linear_global_id"
	if f := m.Func(name); f != nil {
		return f, nil
	}
	gid, err := declare(m, builtins.GetGlobalID)
	if err != nil {
		return nil, err
	}
	gsize, err := declare(m, builtins.GetGlobalSize)
	if err != nil {
		return nil, err
	}
	f := m.NewFunc(name, ir.I64)
	f.Subprogram = &ir.Subprogram{Name: name, File: "kernels.cl", Line: 30}
	b := ir.NewBuilder(f.NewBlock("entry"), ir.WithDebugLoc(&ir.DebugLoc{Line: 31, Scope: f.Subprogram}))
	var ids, sizes [3]ir.Value
	for d := range 3 {
		dim := ir.ConstI32(int64(d))
		ids[d] = b.Call(gid, dim)
		sizes[d] = b.Call(gsize, dim)
	}
	// x + y*sx + z*sx*sy
	yTerm := b.Mul(ids[1], sizes[0], "")
	zTerm := b.Mul(ids[2], b.Mul(sizes[0], sizes[1], ""), "")
	b.Ret(b.Add(b.Add(ids[0], yTerm, ""), zTerm, "linear"))
	return f, nil
}

// AffineParams encodes the by-value argument of the affine kernel.
func AffineParams(a, b int32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, uint32(a))
	binary.LittleEndian.PutUint32(data[4:], uint32(b))
	return data
}

// BuildAffine adds a kernel taking a struct by value:
//
//	struct affine { int a; int b; };
//	kernel void affine(global int *buf, struct affine p) {
//	  size_t i = get_global_id(0);
//	  buf[i] = buf[i] * p.a + p.b;
//	}
func BuildAffine(m *ir.Module) (*ir.Func, error) {
	gid, err := declare(m, builtins.GetGlobalID)
	if err != nil {
		return nil, err
	}
	st := ir.NewStruct(ir.I32, ir.I32)
	p := ir.NewParam("p", ir.Ptr)
	p.Attrs.ByVal = st
	f, b := newKernel(m, Affine, 35, ir.NewParam("buf", ir.NewPointer(ir.AddrSpaceGlobal)), p)
	id := b.Call(gid, ir.ConstI32(0))
	elem := b.GEP(ir.I32, f.Params[0], "elem.p", id)
	a := b.Load(ir.I32, b.StructGEP(st, f.Params[1], 0, "a.p"), "a")
	c := b.Load(ir.I32, b.StructGEP(st, f.Params[1], 1, "b.p"), "b")
	b.Store(b.Add(b.Mul(b.Load(ir.I32, elem, "v"), a, "mul"), c, "res"), elem)
	b.RetVoid()
	return f, nil
}

// BuildLocalSum adds a kernel summing each work-group's inputs through
// local memory:
//
//	kernel void local_sum(global int *in, global int *out, local int *scratch) {
//	  size_t lid = get_local_id(0);
//	  scratch[lid] = in[get_global_id(0)];
//	  barrier(CLK_LOCAL_MEM_FENCE);
//	  if (lid == 0) {
//	    int acc = 0;
//	    for (size_t i = 0; i < get_local_size(0); i++) acc += scratch[i];
//	    out[get_group_id(0)] = acc;
//	  }
//	}
func BuildLocalSum(m *ir.Module) (*ir.Func, error) {
	decls := make(map[builtins.ID]*ir.Func)
	for _, id := range []builtins.ID{builtins.GetLocalID, builtins.GetGlobalID, builtins.GetLocalSize,
		builtins.GetGroupID, builtins.WorkGroupBarrier} {
		f, err := declare(m, id)
		if err != nil {
			return nil, err
		}
		decls[id] = f
	}
	global := ir.NewPointer(ir.AddrSpaceGlobal)
	f, b := newKernel(m, LocalSum, 40,
		ir.NewParam("in", global),
		ir.NewParam("out", global),
		ir.NewParam("scratch", ir.NewPointer(ir.AddrSpaceLocal)))
	in, out, scratch := f.Params[0], f.Params[1], f.Params[2]
	dim0 := ir.ConstI32(0)

	lid := b.Call(decls[builtins.GetLocalID], dim0)
	gid := b.Call(decls[builtins.GetGlobalID], dim0)
	v := b.Load(ir.I32, b.GEP(ir.I32, in, "in.p", gid), "v")
	b.Store(v, b.GEP(ir.I32, scratch, "scratch.p", lid))
	b.Call(decls[builtins.WorkGroupBarrier], ir.ConstI32(0), ir.ConstI32(builtins.ScopeWorkGroup),
		ir.ConstI32(builtins.SemanticsAcquireRelease|builtins.SemanticsWorkGroupMemory))

	init := f.NewBlock("sum.init")
	header := f.NewBlock("sum.header")
	body := f.NewBlock("sum.body")
	done := f.NewBlock("sum.done")
	exit := f.NewBlock("exit")
	b.CondBr(b.ICmp(ir.PredEQ, lid, ir.ConstI64(0), "first"), init, exit)

	b.SetInsertPoint(init)
	n := b.Call(decls[builtins.GetLocalSize], dim0)
	acc := b.Alloca(ir.I32, nil, "acc")
	i := b.Alloca(ir.I64, nil, "i")
	b.Store(ir.NewConstInt(ir.I32, 0), acc)
	b.Store(ir.ConstI64(0), i)
	b.Br(header)

	b.SetInsertPoint(header)
	iv := b.Load(ir.I64, i, "iv")
	b.CondBr(b.ICmp(ir.PredULT, iv, n, "more"), body, done)

	b.SetInsertPoint(body)
	x := b.Load(ir.I32, b.GEP(ir.I32, scratch, "elem.p", iv), "elem")
	b.Store(b.Add(b.Load(ir.I32, acc, "a"), x, "sum"), acc)
	b.Store(b.Add(iv, ir.ConstI64(1), "next"), i)
	b.Br(header)

	b.SetInsertPoint(done)
	grp := b.Call(decls[builtins.GetGroupID], dim0)
	b.Store(b.Load(ir.I32, acc, "total"), b.GEP(ir.I32, out, "out.p", grp))
	b.Br(exit)

	b.SetInsertPoint(exit)
	b.RetVoid()
	return f, nil
}
