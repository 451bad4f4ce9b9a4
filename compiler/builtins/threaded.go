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
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// BarrierTrapName is the HAL entry point a threaded work-item calls to wait
// for the rest of its work-group. It receives the barrier id.
const BarrierTrapName = "__mux_hal_barrier_trap"

// Threaded is the backend running one hardware thread per work-item. The
// execution state carries the linear thread id of the work-item, and the
// only scheduling parameter is the execution-state pointer.
type Threaded struct {
	base
}

// NewThreaded returns the threaded backend.
func NewThreaded() *Threaded {
	t := &Threaded{}
	t.base = base{
		self: t,
		slots: []SchedParamInfo{{
			Type:             ir.Ptr,
			Name:             "exec_state",
			DebugName:        "mux_exec_state",
			Attrs:            ir.ParamAttrs{NoAlias: true, NonNull: true},
			PassedExternally: true,
		}},
		execStateSlot: 0,
	}
	return t
}

func (t *Threaded) Name() string { return BackendThreaded }

func (t *Threaded) RequiresSchedParams(id ID) bool {
	switch id {
	case MemBarrier, WorkGroupBarrier, DMAWait, GetMaxSubGroupSize, GetSubGroupLocalID:
		return false
	}
	return true
}

func (t *Threaded) DefineBuiltin(f *ir.Func, id ID) error {
	if !f.IsDeclaration() {
		return errors.Errorf("builtin @%s is already defined", f.Name)
	}
	switch id {
	case GetLocalID:
		return t.defineLocalID(f)
	case WorkGroupBarrier:
		return t.defineBarrier(f)
	case DMAWait:
		return t.defineDMAWait(f)
	}
	ok, err := t.defineGeneric(f, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("threaded backend cannot define builtin %s", id)
	}
	return nil
}

// defineLocalID decomposes the linear thread id using the local sizes:
// x = tid % lx, y = (tid / lx) % ly, z = tid / (lx*ly).
func (t *Threaded) defineLocalID(f *ir.Func) error {
	if err := t.checkParams(f, GetLocalID); err != nil {
		return err
	}
	m := f.Parent
	bld := ir.NewBuilder(f.NewBlock("entry"))
	tid := bld.Load(ir.I64, StateFieldPtr(bld, m, t.state(f), abi.ExecStateThreadID), "tid")
	var sizes [abi.MaxDims]ir.Value
	for d := range abi.MaxDims {
		s, err := t.call(bld, f, GetLocalSize, ir.ConstI32(int64(d)))
		if err != nil {
			f.DeleteBody()
			return err
		}
		sizes[d] = s
	}
	x := bld.URem(tid, sizes[0], "id_x")
	y := bld.URem(bld.UDiv(tid, sizes[0], ""), sizes[1], "id_y")
	z := bld.UDiv(tid, bld.Mul(sizes[0], sizes[1], ""), "id_z")

	rank := f.Params[0]
	isX := bld.ICmp(ir.PredEQ, rank, ir.ConstI32(0), "is_x")
	isY := bld.ICmp(ir.PredEQ, rank, ir.ConstI32(1), "is_y")
	isZ := bld.ICmp(ir.PredEQ, rank, ir.ConstI32(2), "is_z")
	res := bld.Select(isZ, z, ir.ConstI64(0), "")
	res = bld.Select(isY, y, res, "")
	res = bld.Select(isX, x, res, "local_id")
	bld.Ret(res)
	return nil
}

// defineBarrier orders memory through mem_barrier, then traps into the HAL
// to wait for the other work-items of the group.
func (t *Threaded) defineBarrier(f *ir.Func) error {
	if err := t.checkParams(f, WorkGroupBarrier); err != nil {
		return err
	}
	m := f.Parent
	memBarrier, err := t.GetOrDeclareBuiltin(m, MemBarrier)
	if err != nil {
		return err
	}
	trap, err := m.GetOrInsertFunc(BarrierTrapName, ir.NewFuncType(ir.Void, ir.I32))
	if err != nil {
		return errors.WithMessage(err, "declaring barrier trap")
	}
	trap.Attrs.Add(ir.AttrConvergent)
	trap.Attrs.Add(ir.AttrNoDuplicate)

	bld := ir.NewBuilder(f.NewBlock("entry"))
	bld.Call(memBarrier, f.Params[1], f.Params[2])
	bld.Call(trap, f.Params[0])
	bld.RetVoid()
	markBarrier(f)
	return nil
}

func (t *Threaded) InitializeSchedParam(_ *ir.Builder, wrapper *ir.Func, slot int) (ir.Value, error) {
	return nil, errors.Errorf("threaded backend has no internal scheduling slot %d (wrapping @%s)", slot, wrapper.Name)
}
