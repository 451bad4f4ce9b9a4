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
	"strings"

	"github.com/ajroetker/go-mux/ir"
	"github.com/samber/lo"
)

// Function attributes shared by the passes.
const (
	// KernelAttr marks the current entry point of a kernel. Passes that
	// wrap a kernel move the attribute to the wrapper.
	KernelAttr       = "mux-kernel"
	KernelEntryPoint = "entry-point"

	// OrigFnAttr records the source-level kernel name across renames.
	OrigFnAttr = "mux-orig-fn"

	// SchedParamsAttr marks functions that carry scheduling parameters.
	SchedParamsAttr = "mux-sched-params"

	// WorkItemLoopsAttr marks functions holding a work-item loop.
	WorkItemLoopsAttr = "mux-work-item-loops"

	// KernelWrapperAttr marks stable-ABI wrappers.
	KernelWrapperAttr = "mux-kernel-wrapper"

	// SliceWrapperAttr marks multi-instance slice wrappers.
	SliceWrapperAttr = "mux-slice-wrapper"
)

// Name suffixes of generated functions.
const (
	schedCloneSuffix   = ".mux-sched-wrapper"
	schedOldSuffix     = ".mux-sched-old"
	loopsSuffix        = ".mux-work-item-loops"
	kernelWrapSuffix   = ".mux-kernel-wrapper"
	sliceWrapperSuffix = ".mux-slice-wrapper"
)

// IsKernel reports whether f is a kernel entry point.
func IsKernel(f *ir.Func) bool {
	v, ok := f.Attrs.Get(KernelAttr)
	return ok && v == KernelEntryPoint
}

// SetKernel marks f as a kernel entry point, recording its name as the
// original kernel name unless one is already recorded.
func SetKernel(f *ir.Func) {
	f.Attrs.Set(KernelAttr, KernelEntryPoint)
	if _, ok := f.Attrs.Get(OrigFnAttr); !ok {
		f.Attrs.Set(OrigFnAttr, f.Name)
	}
}

// Kernels returns the kernel entry points of m in module order.
func Kernels(m *ir.Module) []*ir.Func {
	return lo.Filter(m.Funcs, func(f *ir.Func, _ int) bool { return IsKernel(f) })
}

// OrigName returns the source-level name of f.
func OrigName(f *ir.Func) string {
	if name, ok := f.Attrs.Get(OrigFnAttr); ok {
		return name
	}
	return f.Name
}

// KernelByOrigName returns the current entry point of the named kernel.
func KernelByOrigName(m *ir.Module, name string) *ir.Func {
	k, _ := lo.Find(Kernels(m), func(f *ir.Func) bool { return OrigName(f) == name })
	return k
}

// moveKernel makes to the entry point in place of from. from becomes
// internal so it disappears once nothing calls it.
func moveKernel(from, to *ir.Func) {
	to.Attrs.Set(KernelAttr, KernelEntryPoint)
	to.Attrs.Set(OrigFnAttr, OrigName(from))
	from.Attrs.Delete(KernelAttr)
	from.Linkage = ir.LinkageInternal
}

// derivedName returns OrigName(f)+suffix, made unique in the module.
func derivedName(f *ir.Func, suffix string) string {
	return f.Parent.UniqueName(strings.TrimSuffix(OrigName(f), suffix) + suffix)
}

// cloneSubprogram returns a debug subprogram for a function derived from
// f, or nil when f has none.
func cloneSubprogram(f *ir.Func, name string) *ir.Subprogram {
	if f.Subprogram == nil {
		return nil
	}
	sp := *f.Subprogram
	sp.Name = name
	return &sp
}
