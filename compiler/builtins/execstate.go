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
	"encoding/binary"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/ir"
)

// Names of the module-scoped struct types.
const (
	ExecStateTypeName     = "MuxExecState"
	WorkGroupInfoTypeName = "MuxWorkGroupInfo"
	WorkItemInfoTypeName  = "MuxWorkItemInfo"
)

func dimArray() *ir.ArrayType { return ir.NewArray(abi.MaxDims, ir.I64) }

// WorkGroupInfoType returns the work-group info struct of m, creating it on
// first use. Field order follows abi.WorkGroupInfoField.
func WorkGroupInfoType(m *ir.Module) *ir.StructType {
	return m.GetOrCreateStruct(WorkGroupInfoTypeName, false, func() []ir.Type {
		fields := make([]ir.Type, abi.NumWorkGroupInfoFields)
		fields[abi.WorkGroupInfoNumGroups] = dimArray()
		fields[abi.WorkGroupInfoGlobalOffset] = dimArray()
		fields[abi.WorkGroupInfoLocalSize] = dimArray()
		fields[abi.WorkGroupInfoWorkDim] = ir.I32
		fields[abi.WorkGroupInfoGroupID] = dimArray()
		return fields
	})
}

// ExecStateType returns the execution-state struct of m, creating it on
// first use. Field order follows abi.ExecStateField.
func ExecStateType(m *ir.Module) *ir.StructType {
	wgInfo := WorkGroupInfoType(m)
	return m.GetOrCreateStruct(ExecStateTypeName, false, func() []ir.Type {
		fields := make([]ir.Type, abi.NumExecStateFields)
		fields[abi.ExecStateWorkGroupInfo] = wgInfo
		fields[abi.ExecStateNumGroupsPerCall] = dimArray()
		fields[abi.ExecStateHalExtra] = ir.Ptr
		fields[abi.ExecStateLocalID] = dimArray()
		fields[abi.ExecStateKernelEntry] = ir.Ptr
		fields[abi.ExecStatePackedArgs] = ir.Ptr
		fields[abi.ExecStateMagic] = ir.I32
		fields[abi.ExecStateStateSize] = ir.I32
		fields[abi.ExecStateFlags] = ir.I32
		fields[abi.ExecStateNextXferID] = ir.I32
		fields[abi.ExecStateThreadID] = ir.I64
		return fields
	})
}

// WorkItemInfoType returns the per-work-item struct holding the local id.
func WorkItemInfoType(m *ir.Module) *ir.StructType {
	return m.GetOrCreateStruct(WorkItemInfoTypeName, false, func() []ir.Type {
		return []ir.Type{dimArray()}
	})
}

// StateFieldPtr emits the address of a top-level execution-state field.
func StateFieldPtr(b *ir.Builder, m *ir.Module, state ir.Value, field abi.ExecStateField) *ir.Inst {
	return b.StructGEP(ExecStateType(m), state, int(field), field.String())
}

// WorkGroupFieldPtr emits the address of a work-group info field.
func WorkGroupFieldPtr(b *ir.Builder, m *ir.Module, state ir.Value, field abi.WorkGroupInfoField) *ir.Inst {
	info := StateFieldPtr(b, m, state, abi.ExecStateWorkGroupInfo)
	return b.StructGEP(WorkGroupInfoType(m), info, int(field), field.String())
}

// DimElemPtr emits the address of element dim of a [3 x i64] array.
func DimElemPtr(b *ir.Builder, array ir.Value, dim ir.Value, name string) *ir.Inst {
	return b.ArrayGEP(dimArray(), array, dim, name)
}

// StateLayout holds byte offsets of execution-state fields under a module's
// data layout. Runtimes use it to populate states in memory.
type StateLayout struct {
	Size uint64

	// Field is the offset of each top-level field.
	Field [abi.NumExecStateFields]uint64

	// WorkGroup is the offset of each work-group info field, from the start
	// of the execution state.
	WorkGroup [abi.NumWorkGroupInfoFields]uint64
}

// ExecStateLayout computes the StateLayout of m.
func ExecStateLayout(m *ir.Module) StateLayout {
	dl := m.Layout
	st := dl.StructLayout(ExecStateType(m))
	wg := dl.StructLayout(WorkGroupInfoType(m))
	var sl StateLayout
	sl.Size = st.Size
	copy(sl.Field[:], st.Offsets)
	base := st.Offsets[abi.ExecStateWorkGroupInfo]
	for i, off := range wg.Offsets {
		sl.WorkGroup[i] = base + off
	}
	return sl
}

// Encode serializes st as little-endian bytes in this layout. Pointer fields
// stay zero; the device stores them separately.
func (sl StateLayout) Encode(st abi.ExecState) []byte {
	buf := make([]byte, sl.Size)
	le := binary.LittleEndian
	dims := func(off uint64, v [abi.MaxDims]uint64) {
		for d := range abi.MaxDims {
			le.PutUint64(buf[off+8*uint64(d):], v[d])
		}
	}
	dims(sl.WorkGroup[abi.WorkGroupInfoNumGroups], st.NumGroups)
	dims(sl.WorkGroup[abi.WorkGroupInfoGlobalOffset], st.GlobalOffset)
	dims(sl.WorkGroup[abi.WorkGroupInfoLocalSize], st.LocalSize)
	le.PutUint32(buf[sl.WorkGroup[abi.WorkGroupInfoWorkDim]:], st.WorkDim)
	dims(sl.WorkGroup[abi.WorkGroupInfoGroupID], st.GroupID)
	dims(sl.Field[abi.ExecStateNumGroupsPerCall], st.NumGroupsPerCall)
	dims(sl.Field[abi.ExecStateLocalID], st.LocalID)
	le.PutUint32(buf[sl.Field[abi.ExecStateMagic]:], st.Magic)
	le.PutUint32(buf[sl.Field[abi.ExecStateStateSize]:], st.StateSize)
	le.PutUint32(buf[sl.Field[abi.ExecStateFlags]:], st.Flags)
	le.PutUint32(buf[sl.Field[abi.ExecStateNextXferID]:], st.NextXferID)
	le.PutUint64(buf[sl.Field[abi.ExecStateThreadID]:], st.ThreadID)
	return buf
}

// Decode is the inverse of Encode.
func (sl StateLayout) Decode(buf []byte) abi.ExecState {
	var st abi.ExecState
	le := binary.LittleEndian
	dims := func(off uint64) (v [abi.MaxDims]uint64) {
		for d := range abi.MaxDims {
			v[d] = le.Uint64(buf[off+8*uint64(d):])
		}
		return v
	}
	st.NumGroups = dims(sl.WorkGroup[abi.WorkGroupInfoNumGroups])
	st.GlobalOffset = dims(sl.WorkGroup[abi.WorkGroupInfoGlobalOffset])
	st.LocalSize = dims(sl.WorkGroup[abi.WorkGroupInfoLocalSize])
	st.WorkDim = le.Uint32(buf[sl.WorkGroup[abi.WorkGroupInfoWorkDim]:])
	st.GroupID = dims(sl.WorkGroup[abi.WorkGroupInfoGroupID])
	st.NumGroupsPerCall = dims(sl.Field[abi.ExecStateNumGroupsPerCall])
	st.LocalID = dims(sl.Field[abi.ExecStateLocalID])
	st.Magic = le.Uint32(buf[sl.Field[abi.ExecStateMagic]:])
	st.StateSize = le.Uint32(buf[sl.Field[abi.ExecStateStateSize]:])
	st.Flags = le.Uint32(buf[sl.Field[abi.ExecStateFlags]:])
	st.NextXferID = le.Uint32(buf[sl.Field[abi.ExecStateNextXferID]:])
	st.ThreadID = le.Uint64(buf[sl.Field[abi.ExecStateThreadID]:])
	return st
}
