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

// Package builtins describes the mux builtins: the low-level functions kernel
// code calls to query its position in the index space or to synchronize.
// Backends customize how builtins are defined through the Info interface.
package builtins

import (
	"strings"

	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// ID identifies a mux builtin.
type ID int

const (
	GetLocalID ID = iota
	GetGroupID
	GetNumGroups
	GetGlobalOffset
	GetLocalSize
	GetGlobalSize
	GetGlobalID
	GetWorkDim
	GetLocalLinearID
	GetSubGroupID
	GetMaxSubGroupSize
	GetNumSubGroups
	GetSubGroupLocalID
	WorkGroupBarrier
	MemBarrier
	DMAWait

	numIDs
)

// Prefix starts the name of every mux builtin.
const Prefix = "__mux_"

var idNames = [...]string{
	GetLocalID:         "get_local_id",
	GetGroupID:         "get_group_id",
	GetNumGroups:       "get_num_groups",
	GetGlobalOffset:    "get_global_offset",
	GetLocalSize:       "get_local_size",
	GetGlobalSize:      "get_global_size",
	GetGlobalID:        "get_global_id",
	GetWorkDim:         "get_work_dim",
	GetLocalLinearID:   "get_local_linear_id",
	GetSubGroupID:      "get_sub_group_id",
	GetMaxSubGroupSize: "get_max_sub_group_size",
	GetNumSubGroups:    "get_num_sub_groups",
	GetSubGroupLocalID: "get_sub_group_local_id",
	WorkGroupBarrier:   "work_group_barrier",
	MemBarrier:         "mem_barrier",
	DMAWait:            "dma_wait",
}

// IDs returns every builtin ID.
func IDs() []ID {
	ids := make([]ID, numIDs)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// String returns the short name, e.g. "get_local_id".
func (id ID) String() string {
	if id >= 0 && id < numIDs {
		return idNames[id]
	}
	return "unknown"
}

// Name returns the function name, e.g. "__mux_get_local_id".
func (id ID) Name() string { return Prefix + id.String() }

// Identify returns the builtin named name.
func Identify(name string) (ID, bool) {
	short, ok := strings.CutPrefix(name, Prefix)
	if !ok {
		return 0, false
	}
	for id, n := range idNames {
		if n == short {
			return ID(id), true
		}
	}
	return 0, false
}

// HasRank reports whether the builtin takes a dimension argument.
func (id ID) HasRank() bool {
	switch id {
	case GetLocalID, GetGroupID, GetNumGroups, GetGlobalOffset, GetLocalSize, GetGlobalSize, GetGlobalID:
		return true
	}
	return false
}

// IsBarrier reports whether the builtin synchronizes work-items.
func (id ID) IsBarrier() bool {
	return id == WorkGroupBarrier || id == DMAWait
}

// Signature returns the type of the builtin before scheduling parameters are
// appended.
func (id ID) Signature() *ir.FuncType {
	switch {
	case id.HasRank():
		return ir.NewFuncType(ir.I64, ir.I32)
	case id == GetLocalLinearID:
		return ir.NewFuncType(ir.I64)
	case id == GetWorkDim, id == GetSubGroupID, id == GetMaxSubGroupSize,
		id == GetNumSubGroups, id == GetSubGroupLocalID:
		return ir.NewFuncType(ir.I32)
	case id == WorkGroupBarrier:
		return ir.NewFuncType(ir.Void, ir.I32, ir.I32, ir.I32)
	case id == MemBarrier:
		return ir.NewFuncType(ir.Void, ir.I32, ir.I32)
	case id == DMAWait:
		return ir.NewFuncType(ir.Void, ir.I32, ir.Ptr)
	}
	panic(errors.Errorf("builtins: no signature for %d", int(id)))
}

// Memory scopes passed to barrier builtins.
const (
	ScopeCrossDevice = 0
	ScopeDevice      = 1
	ScopeWorkGroup   = 2
	ScopeSubGroup    = 3
	ScopeWorkItem    = 4
)

// Memory semantics flags passed to barrier builtins.
const (
	SemanticsRelaxed                = 0x0
	SemanticsAcquire                = 0x2
	SemanticsRelease                = 0x4
	SemanticsAcquireRelease         = 0x8
	SemanticsSequentiallyConsistent = 0x10
	SemanticsSubGroupMemory         = 0x80
	SemanticsWorkGroupMemory        = 0x100
	SemanticsCrossWorkGroupMemory   = 0x200
)

// SchedParamInfo describes one scheduling-parameter slot.
type SchedParamInfo struct {
	Type      ir.Type
	Name      string
	DebugName string
	Attrs     ir.ParamAttrs

	// PassedExternally slots are part of the kernel entry ABI. Others are
	// initialized by the kernel wrapper.
	PassedExternally bool
}

// Info is the backend capability object consulted by the lowering passes.
type Info interface {
	// Name identifies the backend, e.g. "threaded".
	Name() string

	// SchedParams returns the ordered scheduling-parameter slots appended to
	// kernels and to every function that needs them.
	SchedParams() []SchedParamInfo

	// ExecStateSlot is the index of the execution-state pointer slot.
	ExecStateSlot() int

	// RequiresSchedParams reports whether builtin id reads scheduling
	// parameters and so must receive them.
	RequiresSchedParams(id ID) bool

	// GetOrDeclareBuiltin returns the function for id, declaring it with the
	// scheduling parameters it requires when absent.
	GetOrDeclareBuiltin(m *ir.Module, id ID) (*ir.Func, error)

	// DefineBuiltin gives the declaration f of builtin id a body.
	DefineBuiltin(f *ir.Func, id ID) error

	// ExecStateType returns the execution-state struct of m.
	ExecStateType(m *ir.Module) *ir.StructType

	// InitializeSchedParam emits, at b, code producing the value of an
	// internal slot for a call from the kernel wrapper.
	InitializeSchedParam(b *ir.Builder, wrapper *ir.Func, slot int) (ir.Value, error)
}

// WorkItemInfoBackend is implemented by backends that store the local id of
// the current work-item in a dedicated scheduling slot.
type WorkItemInfoBackend interface {
	Info

	WorkItemInfoSlot() int
	WorkItemInfoType(m *ir.Module) *ir.StructType
}

// Backend names accepted by New.
const (
	BackendThreaded = "threaded"
	BackendLooped   = "looped"
)

// New returns the Info of the named backend.
func New(backend string) (Info, error) {
	switch backend {
	case BackendThreaded:
		return NewThreaded(), nil
	case BackendLooped:
		return NewLooped(), nil
	}
	return nil, errors.Errorf("unknown backend %q, want %q or %q", backend, BackendThreaded, BackendLooped)
}

// SchedParamValue returns the parameter of f holding scheduling slot slot,
// given that f carries all numSlots slots as trailing parameters.
func SchedParamValue(f *ir.Func, numSlots, slot int) *ir.Param {
	idx := len(f.Params) - numSlots + slot
	if slot < 0 || slot >= numSlots || idx < 0 {
		panic(errors.Errorf("builtins: @%s has no scheduling slot %d of %d", f.Name, slot, numSlots))
	}
	return f.Params[idx]
}

// SchedArgs returns the trailing scheduling parameters of f.
func SchedArgs(f *ir.Func, numSlots int) []ir.Value {
	out := make([]ir.Value, numSlots)
	for i := range numSlots {
		out[i] = SchedParamValue(f, numSlots, i)
	}
	return out
}
