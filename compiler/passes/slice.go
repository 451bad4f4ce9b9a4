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

package passes

import (
	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AddSliceWrapper builds, for every wrapped kernel, an entry point taking
// (i64 instance, i64 slice) ahead of the wrapper's parameters. It copies the
// caller's execution state into a fresh one, derives the group id from
// instance and slice, and calls the wrapper with the fresh state:
//
//	group_id[0] = instance
//	group_id[1] = slice % num_groups[1]
//	group_id[2] = slice / num_groups[1]
type AddSliceWrapper struct {
	Info builtins.Info
}

func (p *AddSliceWrapper) Name() string { return "add-slice-wrapper" }

func (p *AddSliceWrapper) Run(m *ir.Module) error {
	for _, k := range Kernels(m) {
		if _, done := k.Attrs.Get(SliceWrapperAttr); done {
			continue
		}
		if _, ok := k.Attrs.Get(KernelWrapperAttr); !ok {
			return errors.Errorf("kernel @%s has no stable-ABI wrapper", k.Name)
		}
		stateIdx, err := p.stateParamIndex(k)
		if err != nil {
			return err
		}
		f := p.build(m, k, stateIdx)
		klog.V(2).Infof("add-slice-wrapper: @%s slices @%s", f.Name, k.Name)
	}
	return nil
}

// stateParamIndex locates the execution-state pointer among the wrapper
// parameters: external slots trail the wrapper in slot order.
func (p *AddSliceWrapper) stateParamIndex(w *ir.Func) (int, error) {
	slots := p.Info.SchedParams()
	execSlot := p.Info.ExecStateSlot()
	if !slots[execSlot].PassedExternally {
		return 0, errors.Errorf("backend %s does not pass the execution state externally", p.Info.Name())
	}
	numExternal, before := 0, 0
	for i, s := range slots {
		if !s.PassedExternally {
			continue
		}
		numExternal++
		if i < execSlot {
			before++
		}
	}
	idx := len(w.Params) - numExternal + before
	if idx < 0 || !ir.IsPointer(w.Params[idx].Typ) {
		return 0, errors.Errorf("wrapper @%s has no execution-state parameter", w.Name)
	}
	return idx, nil
}

func (p *AddSliceWrapper) build(m *ir.Module, w *ir.Func, stateIdx int) *ir.Func {
	params := []*ir.Param{ir.NewParam("instance", ir.I64), ir.NewParam("slice", ir.I64)}
	for _, wp := range w.Params {
		params = append(params, ir.CloneParam(wp))
	}
	f := m.NewFunc(derivedName(w, sliceWrapperSuffix), ir.Void, params...)
	f.Attrs = w.Attrs.Clone()
	f.Attrs.Set(SliceWrapperAttr, "")
	f.Subprogram = cloneSubprogram(w, f.Name)

	b := ir.NewBuilder(f.NewBlock("entry"))
	stateType := p.Info.ExecStateType(m)
	src := f.Params[2+stateIdx]
	dst := b.Alloca(stateType, nil, "slice_state")

	// Copy everything except the group id, which is derived below.
	for i, ft := range stateType.Fields {
		field := abi.ExecStateField(i)
		from := builtins.StateFieldPtr(b, m, src, field)
		to := builtins.StateFieldPtr(b, m, dst, field)
		if field != abi.ExecStateWorkGroupInfo {
			copyValue(b, ft, from, to)
			continue
		}
		wgType := ft.(*ir.StructType)
		for j, wft := range wgType.Fields {
			if abi.WorkGroupInfoField(j) == abi.WorkGroupInfoGroupID {
				continue
			}
			copyValue(b, wft, b.StructGEP(wgType, from, j, ""), b.StructGEP(wgType, to, j, ""))
		}
	}

	numGroups := builtins.WorkGroupFieldPtr(b, m, dst, abi.WorkGroupInfoNumGroups)
	ngY := b.Load(ir.I64, builtins.DimElemPtr(b, numGroups, ir.ConstI64(1), ""), "num_groups_y")
	groupID := builtins.WorkGroupFieldPtr(b, m, dst, abi.WorkGroupInfoGroupID)
	b.Store(f.Params[0], builtins.DimElemPtr(b, groupID, ir.ConstI64(0), ""))
	b.Store(b.URem(f.Params[1], ngY, "group_y"), builtins.DimElemPtr(b, groupID, ir.ConstI64(1), ""))
	b.Store(b.UDiv(f.Params[1], ngY, "group_z"), builtins.DimElemPtr(b, groupID, ir.ConstI64(2), ""))

	args := make([]ir.Value, len(w.Params))
	for i := range w.Params {
		args[i] = f.Params[2+i]
	}
	args[stateIdx] = dst
	call := b.Call(w, args...)
	call.Loc = ir.SyntheticLoc(f.Subprogram)
	b.RetVoid()

	moveKernel(w, f)
	return f
}

// copyValue emits scalar loads and stores copying a t from src to dst.
func copyValue(b *ir.Builder, t ir.Type, src, dst ir.Value) {
	switch t := t.(type) {
	case *ir.StructType:
		for i, ft := range t.Fields {
			copyValue(b, ft, b.StructGEP(t, src, i, ""), b.StructGEP(t, dst, i, ""))
		}
	case *ir.ArrayType:
		for i := range t.Len {
			idx := ir.ConstI64(int64(i))
			copyValue(b, t.Elem, b.ArrayGEP(t, src, idx, ""), b.ArrayGEP(t, dst, idx, ""))
		}
	default:
		b.Store(b.Load(t, src, ""), dst)
	}
}
