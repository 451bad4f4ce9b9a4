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

package builtins

import (
	"slices"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// base holds what every backend shares: the slot list and the definitions of
// builtins that only read the execution state. Backends embed it and set
// self to themselves so shared code can call back into their overrides.
type base struct {
	self          Info
	slots         []SchedParamInfo
	execStateSlot int
}

func (b *base) SchedParams() []SchedParamInfo { return slices.Clone(b.slots) }

func (b *base) ExecStateSlot() int { return b.execStateSlot }

func (b *base) ExecStateType(m *ir.Module) *ir.StructType { return ExecStateType(m) }

func (b *base) GetOrDeclareBuiltin(m *ir.Module, id ID) (*ir.Func, error) {
	sig := id.Signature()
	if b.self.RequiresSchedParams(id) {
		params := slices.Clone(sig.Params)
		for _, s := range b.slots {
			params = append(params, s.Type)
		}
		sig = ir.NewFuncType(sig.Ret, params...)
	}
	f, err := m.GetOrInsertFunc(id.Name(), sig)
	if err != nil {
		return nil, errors.WithMessagef(err, "declaring builtin %s", id)
	}
	if f.IsDeclaration() && b.self.RequiresSchedParams(id) {
		b.nameSchedParams(f)
	}
	return f, nil
}

// nameSchedParams gives the trailing parameters of a fresh declaration the
// names and attributes of their slots.
func (b *base) nameSchedParams(f *ir.Func) {
	for i, s := range b.slots {
		p := SchedParamValue(f, len(b.slots), i)
		p.Name, p.DebugName, p.Attrs = s.Name, s.DebugName, s.Attrs
	}
}

// checkParams verifies f has the parameters builtin id is declared with.
func (b *base) checkParams(f *ir.Func, id ID) error {
	want := len(id.Signature().Params)
	if b.self.RequiresSchedParams(id) {
		want += len(b.slots)
	}
	if len(f.Params) != want {
		return errors.Errorf("builtin @%s has %d params, want %d", f.Name, len(f.Params), want)
	}
	return nil
}

// call emits a call to builtin id from the builtin f, forwarding f's
// scheduling parameters when id needs them.
func (b *base) call(bld *ir.Builder, f *ir.Func, id ID, args ...ir.Value) (*ir.Inst, error) {
	callee, err := b.self.GetOrDeclareBuiltin(f.Parent, id)
	if err != nil {
		return nil, err
	}
	if b.self.RequiresSchedParams(id) {
		args = append(args, SchedArgs(f, len(b.slots))...)
	}
	return bld.Call(callee, args...), nil
}

func (b *base) state(f *ir.Func) *ir.Param {
	return SchedParamValue(f, len(b.slots), b.execStateSlot)
}

// rankedLoad loads element rank of the [3 x i64] array at array. An
// out-of-range rank yields def instead and never touches memory outside the
// array.
func rankedLoad(bld *ir.Builder, array, rank ir.Value, def int64) ir.Value {
	inRange := bld.ICmp(ir.PredULT, rank, ir.ConstI32(abi.MaxDims), "in_range")
	safe := bld.Select(inRange, rank, ir.ConstI32(0), "safe_rank")
	idx := bld.ZExt(safe, ir.I64, "idx")
	v := bld.Load(ir.I64, DimElemPtr(bld, array, idx, "elem"), "val")
	return bld.Select(inRange, v, ir.ConstI64(def), "res")
}

// rankedDefault is the value a rank builtin returns for an out-of-range rank.
func rankedDefault(id ID) int64 {
	switch id {
	case GetNumGroups, GetLocalSize, GetGlobalSize:
		return 1
	}
	return 0
}

// defineGeneric defines the builtins whose semantics do not depend on the
// backend. It reports false for builtins it does not know.
func (b *base) defineGeneric(f *ir.Func, id ID) (bool, error) {
	if err := b.checkParams(f, id); err != nil {
		return false, err
	}
	m := f.Parent
	bld := ir.NewBuilder(f.NewBlock("entry"))
	fail := func(err error) (bool, error) {
		f.DeleteBody()
		return false, err
	}

	var wgField abi.WorkGroupInfoField
	switch id {
	case GetGroupID:
		wgField = abi.WorkGroupInfoGroupID
	case GetNumGroups:
		wgField = abi.WorkGroupInfoNumGroups
	case GetGlobalOffset:
		wgField = abi.WorkGroupInfoGlobalOffset
	case GetLocalSize:
		wgField = abi.WorkGroupInfoLocalSize
	}

	switch id {
	case GetGroupID, GetNumGroups, GetGlobalOffset, GetLocalSize:
		array := WorkGroupFieldPtr(bld, m, b.state(f), wgField)
		bld.Ret(rankedLoad(bld, array, f.Params[0], rankedDefault(id)))

	case GetWorkDim:
		ptr := WorkGroupFieldPtr(bld, m, b.state(f), abi.WorkGroupInfoWorkDim)
		bld.Ret(bld.Load(ir.I32, ptr, "work_dim"))

	case GetGlobalID:
		// group_id * local_size + local_id + global_offset
		rank := f.Params[0]
		var vals [4]ir.Value
		for i, dep := range []ID{GetGroupID, GetLocalSize, GetLocalID, GetGlobalOffset} {
			v, err := b.call(bld, f, dep, rank)
			if err != nil {
				return fail(err)
			}
			vals[i] = v
		}
		groupBase := bld.Mul(vals[0], vals[1], "group_base")
		bld.Ret(bld.Add(bld.Add(groupBase, vals[2], ""), vals[3], "global_id"))

	case GetGlobalSize:
		groups, err := b.call(bld, f, GetNumGroups, f.Params[0])
		if err != nil {
			return fail(err)
		}
		size, err := b.call(bld, f, GetLocalSize, f.Params[0])
		if err != nil {
			return fail(err)
		}
		bld.Ret(bld.Mul(groups, size, "global_size"))

	case GetLocalLinearID:
		var ids, sizes [abi.MaxDims]ir.Value
		var err error
		for d := range abi.MaxDims {
			dim := ir.ConstI32(int64(d))
			if ids[d], err = b.call(bld, f, GetLocalID, dim); err != nil {
				return fail(err)
			}
			if sizes[d], err = b.call(bld, f, GetLocalSize, dim); err != nil {
				return fail(err)
			}
		}
		// x + y*lx + z*lx*ly
		yTerm := bld.Mul(ids[1], sizes[0], "")
		plane := bld.Mul(sizes[0], sizes[1], "")
		zTerm := bld.Mul(ids[2], plane, "")
		bld.Ret(bld.Add(bld.Add(ids[0], yTerm, ""), zTerm, "linear_id"))

	case GetSubGroupID:
		// Sub-groups are trivial: every work-item is its own sub-group.
		lin, err := b.call(bld, f, GetLocalLinearID)
		if err != nil {
			return fail(err)
		}
		bld.Ret(bld.Trunc(lin, ir.I32, "sub_group_id"))

	case GetMaxSubGroupSize:
		bld.Ret(ir.ConstI32(1))

	case GetSubGroupLocalID:
		bld.Ret(ir.ConstI32(0))

	case GetNumSubGroups:
		var prod ir.Value = ir.ConstI64(1)
		for d := range abi.MaxDims {
			size, err := b.call(bld, f, GetLocalSize, ir.ConstI32(int64(d)))
			if err != nil {
				return fail(err)
			}
			prod = bld.Mul(prod, size, "")
		}
		bld.Ret(bld.Trunc(prod, ir.I32, "num_sub_groups"))

	case MemBarrier:
		bld.Fence(SemanticsSequentiallyConsistent)
		bld.RetVoid()

	default:
		f.DeleteBody()
		return false, nil
	}
	return true, nil
}

// markBarrier applies the attributes every barrier-class builtin needs so
// calls are never merged, duplicated or moved across divergent control flow.
func markBarrier(f *ir.Func) {
	f.Attrs.Remove(ir.AttrAlwaysInline)
	f.Attrs.Add(ir.AttrNoInline)
	f.Attrs.Add(ir.AttrNoDuplicate)
	f.Attrs.Add(ir.AttrConvergent)
}

// defineDMAWait defines dma_wait as a work-group barrier. DMA completes
// synchronously, but the wait still orders memory for every work-item.
func (b *base) defineDMAWait(f *ir.Func) error {
	if err := b.checkParams(f, DMAWait); err != nil {
		return err
	}
	bld := ir.NewBuilder(f.NewBlock("entry"))
	if _, err := b.call(bld, f, WorkGroupBarrier,
		ir.ConstI32(0),
		ir.ConstI32(ScopeWorkGroup),
		ir.ConstI32(SemanticsAcquireRelease|SemanticsWorkGroupMemory|SemanticsCrossWorkGroupMemory),
	); err != nil {
		f.DeleteBody()
		return err
	}
	bld.RetVoid()
	markBarrier(f)
	return nil
}
