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
	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// Looped is the backend that runs a whole work-group per call and iterates
// over its work-items in software. The local id of the current work-item
// lives in a work-item info struct passed as an internal scheduling
// parameter, ahead of the execution-state pointer.
type Looped struct {
	base
}

const (
	loopedWorkItemInfoSlot = 0
	loopedExecStateSlot    = 1
)

// NewLooped returns the looped backend.
func NewLooped() *Looped {
	l := &Looped{}
	l.base = base{
		self: l,
		slots: []SchedParamInfo{
			{
				Type:      ir.Ptr,
				Name:      "wi_info",
				DebugName: "mux_work_item_info",
				Attrs:     ir.ParamAttrs{NoAlias: true, NonNull: true},
			},
			{
				Type:             ir.Ptr,
				Name:             "exec_state",
				DebugName:        "mux_exec_state",
				Attrs:            ir.ParamAttrs{NoAlias: true, NonNull: true},
				PassedExternally: true,
			},
		},
		execStateSlot: loopedExecStateSlot,
	}
	return l
}

func (l *Looped) Name() string { return BackendLooped }

func (l *Looped) WorkItemInfoSlot() int { return loopedWorkItemInfoSlot }

func (l *Looped) WorkItemInfoType(m *ir.Module) *ir.StructType { return WorkItemInfoType(m) }

func (l *Looped) RequiresSchedParams(id ID) bool {
	switch id {
	case MemBarrier, WorkGroupBarrier, DMAWait, GetMaxSubGroupSize, GetSubGroupLocalID:
		return false
	}
	return true
}

func (l *Looped) DefineBuiltin(f *ir.Func, id ID) error {
	if !f.IsDeclaration() {
		return errors.Errorf("builtin @%s is already defined", f.Name)
	}
	switch id {
	case GetLocalID:
		return l.defineLocalID(f)
	case WorkGroupBarrier:
		// Barriers in software work-item loops need the kernel split at
		// every barrier, which this backend does not do.
		return errors.Wrapf(hal.ErrUnsupported, "looped backend: %s", id)
	case DMAWait:
		return l.defineDMAWait(f)
	}
	ok, err := l.defineGeneric(f, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("looped backend cannot define builtin %s", id)
	}
	return nil
}

func (l *Looped) defineLocalID(f *ir.Func) error {
	if err := l.checkParams(f, GetLocalID); err != nil {
		return err
	}
	bld := ir.NewBuilder(f.NewBlock("entry"))
	wi := SchedParamValue(f, len(l.slots), loopedWorkItemInfoSlot)
	ids := bld.StructGEP(WorkItemInfoType(f.Parent), wi, 0, "local_id")
	bld.Ret(rankedLoad(bld, ids, f.Params[0], 0))
	return nil
}

// InitializeSchedParam allocates the work-item info in the wrapper frame.
// The work-item loop overwrites the local id before every body call.
func (l *Looped) InitializeSchedParam(bld *ir.Builder, wrapper *ir.Func, slot int) (ir.Value, error) {
	if slot != loopedWorkItemInfoSlot {
		return nil, errors.Errorf("looped backend: slot %d of @%s is not internal", slot, wrapper.Name)
	}
	wiType := WorkItemInfoType(wrapper.Parent)
	wi := bld.Alloca(wiType, nil, "wi_info")
	ids := bld.StructGEP(wiType, wi, 0, "")
	for d := range abi.MaxDims {
		bld.Store(ir.ConstI64(0), DimElemPtr(bld, ids, ir.ConstI64(int64(d)), ""))
	}
	return wi, nil
}
