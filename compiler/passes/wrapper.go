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

// WrapperPolicy is the backend's argument-passing convention.
type WrapperPolicy struct {
	// PackArgs passes user arguments in one struct whose pointer is the
	// first wrapper parameter. Otherwise they stay individual parameters.
	PackArgs bool

	// NoPadding lays the argument struct out without alignment padding.
	NoPadding bool

	// LocalsBySize passes local-memory buffers as their size in bytes; the
	// wrapper allocates them on entry.
	LocalsBySize bool
}

// WrapperResult describes the wrapper built for one kernel.
type WrapperResult struct {
	// Kernel is the source-level kernel name.
	Kernel  string
	Wrapper *ir.Func

	// Wrapped is the function the wrapper calls, scheduling parameters
	// included.
	Wrapped *ir.Func

	// Mappings has one entry per parameter of the wrapped function,
	// scheduling parameters included.
	Mappings []abi.KernelArgMapping

	// ArgsType and Layout describe the argument struct; ArgsType is nil when
	// arguments are not packed.
	ArgsType *ir.StructType
	Layout   abi.PackedLayout

	// FieldTypes is the type of each packed argument, in argument order.
	FieldTypes []ir.Type
}

// AddKernelWrapper gives every kernel a stable-ABI entry point: user
// arguments come from the argument struct (or stay parameters), external
// scheduling parameters pass through and internal ones are initialized by
// the backend. The wrapper becomes the kernel entry point.
//
// Running the pass again on the same module does not wrap wrappers.
type AddKernelWrapper struct {
	Info   builtins.Info
	Policy WrapperPolicy

	// Results maps kernel names to their wrappers, accumulated across runs.
	Results map[string]*WrapperResult

	newKernels map[*ir.Func]bool
}

func (p *AddKernelWrapper) Name() string { return "add-kernel-wrapper" }

func (p *AddKernelWrapper) Run(m *ir.Module) error {
	if p.Results == nil {
		p.Results = make(map[string]*WrapperResult)
	}
	if p.newKernels == nil {
		p.newKernels = make(map[*ir.Func]bool)
	}
	for _, k := range Kernels(m) {
		if p.newKernels[k] {
			continue
		}
		if _, wrapped := k.Attrs.Get(KernelWrapperAttr); wrapped {
			continue
		}
		res, err := p.wrap(m, k)
		if err != nil {
			return errors.WithMessagef(err, "wrapping kernel @%s", k.Name)
		}
		p.newKernels[res.Wrapper] = true
		p.Results[res.Kernel] = res
		klog.V(2).Infof("add-kernel-wrapper: @%s wraps @%s (%d packed bytes)", res.Wrapper.Name, k.Name, res.Layout.Size)
	}
	return nil
}

// isLocalPtr reports whether t points to work-group local memory.
func isLocalPtr(t ir.Type) bool {
	pt, ok := t.(*ir.PointerType)
	return ok && pt.AddrSpace == ir.AddrSpaceLocal
}

// classify computes the mapping of every parameter of k and the types the
// wrapper parameters and argument struct fields take.
func (p *AddKernelWrapper) classify(k *ir.Func) (mappings []abi.KernelArgMapping, fieldTypes []ir.Type, params []*ir.Param, err error) {
	slots := p.Info.SchedParams()
	numUser := len(k.Params) - len(slots)
	if _, ok := k.Attrs.Get(SchedParamsAttr); !ok || numUser < 0 {
		return nil, nil, nil, errors.Errorf("@%s does not carry the %d scheduling parameters of backend %s", k.Name, len(slots), p.Info.Name())
	}
	if p.Policy.PackArgs {
		params = append(params, &ir.Param{
			Name:  "packed_args",
			Typ:   ir.Ptr,
			Attrs: ir.ParamAttrs{NoAlias: true, NonNull: true},
		})
	}

	packedIdx := 0
	for i, kp := range k.Params {
		if i >= numUser {
			slot := i - numUser
			s := slots[slot]
			if !s.PassedExternally {
				mappings = append(mappings, abi.SchedulingArg(i, slot))
				continue
			}
			mappings = append(mappings, abi.DirectArg(i, len(params)))
			params = append(params, &ir.Param{Name: s.Name, DebugName: s.DebugName, Typ: s.Type, Attrs: s.Attrs})
			continue
		}

		argType := kp.Typ
		switch {
		case isLocalPtr(kp.Typ) && p.Policy.LocalsBySize:
			argType = ir.I64
		case kp.Attrs.ByVal != nil && p.Policy.PackArgs:
			// Packed by value; unpacked by-value arguments stay pointers.
			argType = kp.Attrs.ByVal
		}
		if p.Policy.PackArgs {
			mappings = append(mappings, abi.PackedArg(i, packedIdx))
			fieldTypes = append(fieldTypes, argType)
			packedIdx++
			continue
		}
		mappings = append(mappings, abi.DirectArg(i, len(params)))
		np := &ir.Param{Name: kp.Name, DebugName: kp.DebugName, Typ: argType, Attrs: kp.Attrs}
		if argType != kp.Typ {
			np.Attrs = ir.ParamAttrs{}
		}
		params = append(params, np)
	}
	return mappings, fieldTypes, params, nil
}

func (p *AddKernelWrapper) wrap(m *ir.Module, k *ir.Func) (*WrapperResult, error) {
	if !ir.IsVoid(k.ReturnType()) {
		return nil, errors.Errorf("kernel returns %s, want void", k.ReturnType())
	}
	mappings, fieldTypes, params, err := p.classify(k)
	if err != nil {
		return nil, err
	}
	if err := abi.ValidateMappings(mappings, len(k.Params)); err != nil {
		panic(errors.WithMessagef(err, "argument mapping of @%s", k.Name))
	}

	res := &WrapperResult{Kernel: OrigName(k), Wrapped: k, Mappings: mappings, FieldTypes: fieldTypes}
	dl := m.Layout
	if p.Policy.PackArgs {
		sizes := make([]uint64, len(fieldTypes))
		for i, t := range fieldTypes {
			sizes[i] = dl.SizeOf(t)
		}
		res.Layout = abi.ComputePackedLayout(sizes, p.Policy.NoPadding)
		name := "MuxPackedArgs." + res.Kernel
		res.ArgsType = m.GetOrCreateStruct(name, true, func() []ir.Type {
			return res.Layout.StructType(name, fieldTypes).Fields
		})
	}

	w := m.NewFunc(derivedName(k, kernelWrapSuffix), ir.Void, params...)
	w.Attrs = k.Attrs.Clone()
	w.Attrs.Remove(ir.AttrAlwaysInline)
	w.Attrs.Set(KernelWrapperAttr, "")
	w.Subprogram = cloneSubprogram(k, w.Name)
	res.Wrapper = w

	b := ir.NewBuilder(w.NewBlock("entry"))
	args := make([]ir.Value, len(k.Params))
	for _, mp := range mappings {
		kp := k.Params[mp.OldArgIdx]
		switch mp.Kind() {
		case abi.ArgDirect:
			v := ir.Value(w.Params[mp.NewArgIdx])
			if isLocalPtr(kp.Typ) && p.Policy.LocalsBySize {
				v = allocLocal(b, v, kp)
			}
			args[mp.OldArgIdx] = v

		case abi.ArgScheduling:
			v, err := p.Info.InitializeSchedParam(b, w, mp.SchedParamIdx)
			if err != nil {
				return nil, err
			}
			args[mp.OldArgIdx] = v

		case abi.ArgPacked:
			field := res.Layout.Fields[mp.PackedStructFieldIdx]
			ptr := b.StructGEP(res.ArgsType, w.Params[0], field.StructIndex, kp.Name+".addr")
			if kp.Attrs.ByVal != nil {
				args[mp.OldArgIdx] = ptr
				continue
			}
			ft := fieldTypes[mp.PackedStructFieldIdx]
			load := b.Load(ft, ptr, kp.Name)
			load.Align = field.Align
			var v ir.Value = load
			if isLocalPtr(kp.Typ) && p.Policy.LocalsBySize {
				v = allocLocal(b, v, kp)
			}
			args[mp.OldArgIdx] = v
		}
	}

	call := b.Call(k, args...)
	call.Loc = ir.SyntheticLoc(w.Subprogram)
	b.RetVoid()

	moveKernel(k, w)
	k.Attrs.Add(ir.AttrAlwaysInline)
	return res, nil
}

// allocLocal allocates size bytes of local memory for kp in the wrapper
// frame and returns them as a local-address-space pointer.
func allocLocal(b *ir.Builder, size ir.Value, kp *ir.Param) ir.Value {
	mem := b.Alloca(ir.I8, size, kp.Name+".local")
	return b.AddrSpaceCast(mem, kp.Typ.(*ir.PointerType), kp.Name)
}
