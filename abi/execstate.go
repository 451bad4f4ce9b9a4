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

// Package abi fixes the binary contracts shared by generated code and the
// runtime: the execution-state struct, the packed kernel-argument struct and
// the mapping from original kernel arguments to wrapper arguments.
package abi

// MaxDims is the number of dimensions of the N-D index space.
const MaxDims = 3

// ExecStateField indexes the top-level fields of the execution-state struct.
// Generated code addresses fields by these indices, so the order is part of
// the ABI.
type ExecStateField int

const (
	ExecStateWorkGroupInfo ExecStateField = iota
	ExecStateNumGroupsPerCall
	ExecStateHalExtra
	ExecStateLocalID
	ExecStateKernelEntry
	ExecStatePackedArgs
	ExecStateMagic
	ExecStateStateSize
	ExecStateFlags
	ExecStateNextXferID
	ExecStateThreadID

	NumExecStateFields
)

var execStateFieldNames = [...]string{
	ExecStateWorkGroupInfo:    "work_group_info",
	ExecStateNumGroupsPerCall: "num_groups_per_call",
	ExecStateHalExtra:         "hal_extra",
	ExecStateLocalID:          "local_id",
	ExecStateKernelEntry:      "kernel_entry",
	ExecStatePackedArgs:       "packed_args",
	ExecStateMagic:            "magic",
	ExecStateStateSize:        "state_size",
	ExecStateFlags:            "flags",
	ExecStateNextXferID:       "next_xfer_id",
	ExecStateThreadID:         "thread_id",
}

func (f ExecStateField) String() string {
	if f >= 0 && f < NumExecStateFields {
		return execStateFieldNames[f]
	}
	return "unknown"
}

// WorkGroupInfoField indexes the fields of the nested work-group info struct.
type WorkGroupInfoField int

const (
	WorkGroupInfoNumGroups WorkGroupInfoField = iota
	WorkGroupInfoGlobalOffset
	WorkGroupInfoLocalSize
	WorkGroupInfoWorkDim
	WorkGroupInfoGroupID

	NumWorkGroupInfoFields
)

var workGroupInfoFieldNames = [...]string{
	WorkGroupInfoNumGroups:    "num_groups",
	WorkGroupInfoGlobalOffset: "global_offset",
	WorkGroupInfoLocalSize:    "local_size",
	WorkGroupInfoWorkDim:      "work_dim",
	WorkGroupInfoGroupID:      "group_id",
}

func (f WorkGroupInfoField) String() string {
	if f >= 0 && f < NumWorkGroupInfoFields {
		return workGroupInfoFieldNames[f]
	}
	return "unknown"
}

// ExecStateMagicValue is written to the magic field of every state the runtime
// populates.
const ExecStateMagicValue = 0x4d555845

// WorkGroupInfo mirrors the nested work-group info struct.
type WorkGroupInfo struct {
	NumGroups    [MaxDims]uint64
	GlobalOffset [MaxDims]uint64
	LocalSize    [MaxDims]uint64
	WorkDim      uint32
	GroupID      [MaxDims]uint64
}

// ExecState is the runtime mirror of the execution-state struct. The pointer
// fields (hal_extra, kernel_entry, packed_args) are owned by the device that
// materializes the state in memory and are not represented here.
type ExecState struct {
	WorkGroupInfo

	NumGroupsPerCall [MaxDims]uint64
	LocalID          [MaxDims]uint64

	Magic      uint32
	StateSize  uint32
	Flags      uint32
	NextXferID uint32
	ThreadID   uint64
}

// NewExecState returns a state for an N-D range of numGroups work-groups of
// localSize work-items starting at globalOffset.
func NewExecState(workDim uint32, numGroups, localSize, globalOffset [MaxDims]uint64) ExecState {
	return ExecState{
		WorkGroupInfo: WorkGroupInfo{
			NumGroups:    numGroups,
			GlobalOffset: globalOffset,
			LocalSize:    localSize,
			WorkDim:      workDim,
		},
		NumGroupsPerCall: numGroups,
		Magic:            ExecStateMagicValue,
	}
}

// LocalLinearSize returns the number of work-items in one work-group.
func (wg *WorkGroupInfo) LocalLinearSize() uint64 {
	return wg.LocalSize[0] * wg.LocalSize[1] * wg.LocalSize[2]
}

// LinearSlice returns the slice index the dispatcher passes for the group
// coordinates (y, z).
func LinearSlice(y, z, numGroupsY uint64) uint64 {
	return y + z*numGroupsY
}

// GroupIDFromSlice inverts LinearSlice the way the slice wrapper does:
// group_id = (instance, slice mod numGroupsY, slice / numGroupsY).
func GroupIDFromSlice(instance, slice, numGroupsY uint64) [MaxDims]uint64 {
	return [MaxDims]uint64{instance, slice % numGroupsY, slice / numGroupsY}
}

// DecomposeLocalID splits a linear work-item index into its 3-D local id.
func DecomposeLocalID(threadID uint64, localSize [MaxDims]uint64) [MaxDims]uint64 {
	lx, ly := localSize[0], localSize[1]
	return [MaxDims]uint64{
		threadID % lx,
		(threadID / lx) % ly,
		threadID / (lx * ly),
	}
}
