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
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// Options configures a Pipeline.
type Options struct {
	Policy WrapperPolicy

	// VerifyEach verifies the module after every pass.
	VerifyEach bool

	// PrefWorkWidth is recorded in the metadata of every compiled kernel.
	// Zero means 1.
	PrefWorkWidth uint32
}

// CompiledKernel is the result of lowering one kernel.
type CompiledKernel struct {
	// Name is the source-level kernel name.
	Name string

	// Entry is the slice wrapper the HAL calls:
	//
	//	void entry(i64 instance, i64 slice, <wrapper params>...)
	Entry *ir.Func

	// Wrapper describes the stable-ABI wrapper Entry calls.
	Wrapper *WrapperResult

	// StateParam is the index of the execution-state pointer among the
	// wrapper parameters.
	StateParam int

	Metadata hal.Metadata
}

// Pipeline lowers every kernel of a module for one backend.
type Pipeline struct {
	info    builtins.Info
	opts    Options
	wrapper *AddKernelWrapper
	slicer  *AddSliceWrapper
	pm      *Manager
}

// NewPipeline schedules the passes backend info needs:
//
//	add-sched-params, [work-item-loops,] define-mux-builtins,
//	add-kernel-wrapper, add-slice-wrapper, global-dce
//
// work-item-loops runs only for backends keeping local ids in a work-item
// info slot.
func NewPipeline(info builtins.Info, opts Options) *Pipeline {
	p := &Pipeline{
		info:    info,
		opts:    opts,
		wrapper: &AddKernelWrapper{Info: info, Policy: opts.Policy},
		slicer:  &AddSliceWrapper{Info: info},
	}
	p.pm = NewManager(nil, WithVerifyEach(opts.VerifyEach))
	p.pm.Add(&AddSchedulingParameters{Info: info})
	if _, ok := info.(builtins.WorkItemInfoBackend); ok {
		p.pm.Add(&WorkItemLoops{Info: info})
	}
	p.pm.Add(&DefineBuiltins{Info: info}, p.wrapper, p.slicer, GlobalDCE{})
	return p
}

// Passes returns the names of the scheduled passes.
func (p *Pipeline) Passes() []string { return p.pm.Passes() }

// Run lowers m in place and returns its kernels in module order.
func (p *Pipeline) Run(m *ir.Module) ([]CompiledKernel, error) {
	names := lo.Map(Kernels(m), func(f *ir.Func, _ int) string { return OrigName(f) })
	if len(names) == 0 {
		return nil, errors.Errorf("module %q has no kernels", m.Name)
	}
	if err := p.pm.Run(m); err != nil {
		return nil, err
	}

	pref := max(p.opts.PrefWorkWidth, 1)
	out := make([]CompiledKernel, 0, len(names))
	for _, name := range names {
		entry := KernelByOrigName(m, name)
		res, ok := p.wrapper.Results[name]
		if entry == nil || !ok {
			return nil, errors.Errorf("kernel %q lost during lowering of module %q", name, m.Name)
		}
		stateIdx, err := p.slicer.stateParamIndex(res.Wrapper)
		if err != nil {
			return nil, err
		}
		var packedSize uint64
		if p.opts.Policy.PackArgs {
			packedSize = res.Layout.Size
		}
		out = append(out, CompiledKernel{
			Name:       name,
			Entry:      entry,
			Wrapper:    res,
			StateParam: stateIdx,
			Metadata: hal.Metadata{
				KernelName:     name,
				VariantName:    entry.Name,
				MinWorkWidth:   1,
				PrefWorkWidth:  pref,
				SubGroupSize:   1,
				Args:           p.argMetadata(m.Layout, res),
				PackedArgsSize: packedSize,
				StateParam:     stateIdx,
			},
		})
	}
	klog.V(1).Infof("lowered %d kernels of %q for backend %s", len(out), m.Name, p.info.Name())
	return out, nil
}

// argMetadata describes where the entry point expects each user argument.
func (p *Pipeline) argMetadata(dl *ir.DataLayout, res *WrapperResult) []hal.ArgMetadata {
	numUser := len(res.Wrapped.Params) - len(p.info.SchedParams())
	out := make([]hal.ArgMetadata, 0, numUser)
	for _, mp := range res.Mappings[:numUser] {
		kp := res.Wrapped.Params[mp.OldArgIdx]
		var md hal.ArgMetadata
		switch {
		case isLocalPtr(kp.Typ):
			md.Kind = hal.ArgLocal
			md.LocalBySize = p.opts.Policy.LocalsBySize
		case kp.Attrs.ByVal != nil:
			md.Kind = hal.ArgByVal
			md.Size = dl.SizeOf(kp.Attrs.ByVal)
		case ir.IsPointer(kp.Typ):
			md.Kind = hal.ArgBuffer
		default:
			md.Kind = hal.ArgScalar
			md.Size = dl.SizeOf(kp.Typ)
		}
		switch mp.Kind() {
		case abi.ArgPacked:
			md.Packed = true
			md.Offset = res.Layout.Fields[mp.PackedStructFieldIdx].Offset
		case abi.ArgDirect:
			md.Param = mp.NewArgIdx
		}
		out = append(out, md)
	}
	return out
}
