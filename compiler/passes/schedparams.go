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
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// AddSchedulingParameters appends the backend's scheduling parameters to
// every kernel, to every builtin that reads them, and to every function that
// transitively calls one of those, rewriting the calls to pass them through.
//
// Builtins keep their canonical name so they are still recognized: the old
// declaration is renamed away. Other functions are cloned under a new name
// and the old copy becomes internal for GlobalDCE to collect.
type AddSchedulingParameters struct {
	Info builtins.Info
}

func (p *AddSchedulingParameters) Name() string { return "add-sched-params" }

func (p *AddSchedulingParameters) Run(m *ir.Module) error {
	slots := p.Info.SchedParams()
	if len(slots) == 0 {
		return nil
	}
	for i, s := range slots {
		if s.Type == nil || s.Name == "" {
			panic(errors.Errorf("scheduling slot %d of backend %s is incomplete: %+v", i, p.Info.Name(), s))
		}
	}

	work := p.collect(m)
	if len(work) == 0 {
		return nil
	}

	// Clone every function on the worklist with the slots appended.
	oldToNew := make(map[*ir.Func]*ir.Func, len(work))
	for _, old := range work {
		oldToNew[old] = p.clone(m, old, slots)
	}

	// Calls between cloned functions forward the caller's own slots.
	for _, old := range work {
		f := oldToNew[old]
		schedArgs := builtins.SchedArgs(f, len(slots))
		for _, call := range f.Calls() {
			callee, ok := oldToNew[call.Callee]
			if !ok {
				continue
			}
			args := append(append([]ir.Value(nil), call.Operands...), schedArgs...)
			ir.ReplaceCall(call, callee, args)
		}
	}
	klog.V(1).Infof("add-sched-params: %d functions in %q now take %d scheduling parameters", len(work), m.Name, len(slots))
	return nil
}

// collect seeds the worklist with kernels and scheduling builtins, then adds
// callers until nothing changes. The visited set makes recursive call
// graphs terminate.
func (p *AddSchedulingParameters) collect(m *ir.Module) []*ir.Func {
	visited := make(map[*ir.Func]bool)
	var queue []*ir.Func
	push := func(f *ir.Func) {
		if visited[f] {
			return
		}
		visited[f] = true
		queue = append(queue, f)
	}
	for _, f := range m.Funcs {
		if _, done := f.Attrs.Get(SchedParamsAttr); done {
			visited[f] = true
			continue
		}
		if IsKernel(f) {
			push(f)
			continue
		}
		if id, ok := builtins.Identify(f.Name); ok && p.Info.RequiresSchedParams(id) {
			push(f)
		}
	}

	callers := m.CallerMap()
	for i := 0; i < len(queue); i++ {
		for _, caller := range callers[queue[i]] {
			push(caller)
		}
	}

	// Keep module order so generated names are deterministic.
	return lo.Filter(m.Funcs, func(f *ir.Func, _ int) bool {
		_, done := f.Attrs.Get(SchedParamsAttr)
		return visited[f] && !done
	})
}

func (p *AddSchedulingParameters) clone(m *ir.Module, old *ir.Func, slots []builtins.SchedParamInfo) *ir.Func {
	oldName := old.Name
	_, isBuiltin := builtins.Identify(oldName)

	var newName string
	if isBuiltin {
		m.Rename(old, oldName+schedOldSuffix)
		newName = oldName
	} else {
		newName = oldName + schedCloneSuffix
	}

	params := make([]*ir.Param, 0, len(old.Params)+len(slots))
	vmap := make(ir.ValueMap, len(old.Params))
	for _, op := range old.Params {
		np := ir.CloneParam(op)
		vmap[op] = np
		params = append(params, np)
	}
	for _, s := range slots {
		params = append(params, &ir.Param{Name: s.Name, DebugName: s.DebugName, Typ: s.Type, Attrs: s.Attrs})
	}

	f := m.NewFunc(newName, old.ReturnType(), params...)
	f.Linkage = old.Linkage
	f.Attrs = old.Attrs.Clone()
	f.Attrs.Set(SchedParamsAttr, "")
	f.Subprogram = cloneSubprogram(old, f.Name)
	if !old.IsDeclaration() {
		ir.CloneBody(f, old, vmap)
	}

	if IsKernel(old) {
		moveKernel(old, f)
	}
	old.Linkage = ir.LinkageInternal
	klog.V(2).Infof("add-sched-params: @%s -> @%s", oldName, f.Name)
	return f
}
