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
	"fmt"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WorkItemLoops turns each kernel, which computes one work-item, into a
// function computing a whole work-group: it loops z, y, x over the local
// size, stores the local id into the work-item info slot and calls the
// kernel body once per work-item.
//
// It requires a backend keeping local ids in a work-item info slot, and runs
// after scheduling parameters are added.
type WorkItemLoops struct {
	Info builtins.Info
}

func (p *WorkItemLoops) Name() string { return "work-item-loops" }

func (p *WorkItemLoops) Run(m *ir.Module) error {
	wiInfo, ok := p.Info.(builtins.WorkItemInfoBackend)
	if !ok {
		return errors.Errorf("backend %s has no work-item info slot", p.Info.Name())
	}
	for _, k := range Kernels(m) {
		if _, done := k.Attrs.Get(WorkItemLoopsAttr); done {
			continue
		}
		if _, ok := k.Attrs.Get(SchedParamsAttr); !ok {
			return errors.Errorf("kernel @%s has no scheduling parameters", k.Name)
		}
		if !ir.IsVoid(k.ReturnType()) {
			return errors.Errorf("kernel @%s returns %s, want void", k.Name, k.ReturnType())
		}
		f, err := p.build(m, wiInfo, k)
		if err != nil {
			return errors.WithMessagef(err, "kernel @%s", k.Name)
		}
		klog.V(2).Infof("work-item-loops: @%s loops over @%s", f.Name, k.Name)
	}
	return nil
}

func (p *WorkItemLoops) build(m *ir.Module, info builtins.WorkItemInfoBackend, k *ir.Func) (*ir.Func, error) {
	numSlots := len(info.SchedParams())
	params := make([]*ir.Param, len(k.Params))
	for i, kp := range k.Params {
		params[i] = ir.CloneParam(kp)
	}
	f := m.NewFunc(derivedName(k, loopsSuffix), ir.Void, params...)
	f.Attrs = k.Attrs.Clone()
	f.Attrs.Remove(ir.AttrAlwaysInline)
	f.Attrs.Set(WorkItemLoopsAttr, "")
	f.Subprogram = cloneSubprogram(k, f.Name)

	getLocalSize, err := info.GetOrDeclareBuiltin(m, builtins.GetLocalSize)
	if err != nil {
		return nil, err
	}
	schedArgs := builtins.SchedArgs(f, numSlots)
	args := make([]ir.Value, len(f.Params))
	for i, fp := range f.Params {
		args[i] = fp
	}

	entry := f.NewBlock("entry")
	exit := f.NewBlock("exit")
	b := ir.NewBuilder(entry, ir.WithDebugLoc(ir.SyntheticLoc(f.Subprogram)))
	wi := builtins.SchedParamValue(f, numSlots, info.WorkItemInfoSlot())
	ids := b.StructGEP(info.WorkItemInfoType(m), wi, 0, "local_id")

	var sizes, counters [abi.MaxDims]ir.Value
	for d := range abi.MaxDims {
		sizes[d] = b.Call(getLocalSize, append([]ir.Value{ir.ConstI32(int64(d))}, schedArgs...)...)
		counters[d] = b.Alloca(ir.I64, nil, fmt.Sprintf("iv.%c", "xyz"[d]))
	}

	// Build the nest outside in. Each level's exit is the enclosing level's
	// latch; the outermost exits the function.
	outerExit := exit
	var innermost *ir.Block
	pre := entry
	for d := abi.MaxDims - 1; d >= 0; d-- {
		dim := "xyz"[d]
		header := f.NewBlock(fmt.Sprintf("%c.header", dim))
		body := f.NewBlock(fmt.Sprintf("%c.body", dim))
		latch := f.NewBlock(fmt.Sprintf("%c.latch", dim))

		b.SetInsertPoint(pre)
		b.Store(ir.ConstI64(0), counters[d])
		b.Br(header)

		b.SetInsertPoint(header)
		iv := b.Load(ir.I64, counters[d], fmt.Sprintf("%c", dim))
		b.CondBr(b.ICmp(ir.PredULT, iv, sizes[d], ""), body, outerExit)

		b.SetInsertPoint(body)
		b.Store(iv, builtins.DimElemPtr(b, ids, ir.ConstI64(int64(d)), ""))

		b.SetInsertPoint(latch)
		next := b.Add(b.Load(ir.I64, counters[d], ""), ir.ConstI64(1), "")
		b.Store(next, counters[d])
		b.Br(header)

		pre, outerExit, innermost = body, latch, body
	}

	// The innermost body runs the work-item, then continues with x.latch.
	b.SetInsertPoint(innermost)
	b.Call(k, args...)
	b.Br(outerExit)

	b.SetInsertPoint(exit)
	b.RetVoid()

	moveKernel(k, f)
	k.Attrs.Add(ir.AttrAlwaysInline)
	return f, nil
}
