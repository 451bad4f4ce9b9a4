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

package abi

import (
	"testing"

	"github.com/ajroetker/go-mux/ir"
	"github.com/google/go-cmp/cmp"
)

func TestComputePackedLayout(t *testing.T) {
	sizes := []uint64{1, 8, 4, 16}
	got := ComputePackedLayout(sizes, false)
	want := PackedLayout{
		Fields: []PackedField{
			{Size: 1, Align: 1, Offset: 0, StructIndex: 0},
			{Size: 8, Align: 8, Offset: 8, PadBefore: 7, StructIndex: 2},
			{Size: 4, Align: 4, Offset: 16, StructIndex: 3},
			{Size: 16, Align: 16, Offset: 32, PadBefore: 12, StructIndex: 5},
		},
		Size:            48,
		NumStructFields: 6,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ComputePackedLayout(%v) mismatch (-want +got):\n%s", sizes, diff)
	}

	var sum uint64
	for i, f := range got.Fields {
		if f.Offset%FieldAlign(f.Size) != 0 {
			t.Errorf("field %d at offset %d not aligned to %d", i, f.Offset, FieldAlign(f.Size))
		}
		sum += f.Size + f.PadBefore
	}
	if got.Size < sum {
		t.Errorf("Size = %d, smaller than fields plus padding %d", got.Size, sum)
	}
}

func TestComputePackedLayoutNoPadding(t *testing.T) {
	got := ComputePackedLayout([]uint64{1, 8, 4, 16}, true)
	offsets := make([]uint64, len(got.Fields))
	for i, f := range got.Fields {
		offsets[i] = f.Offset
		if f.PadBefore != 0 {
			t.Errorf("field %d has %d padding bytes, want 0", i, f.PadBefore)
		}
	}
	if diff := cmp.Diff([]uint64{0, 1, 9, 13}, offsets); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
	if got.Size != 29 || got.NumStructFields != 4 {
		t.Errorf("Size, NumStructFields = %d, %d, want 29, 4", got.Size, got.NumStructFields)
	}
}

func TestFieldAlignCap(t *testing.T) {
	for _, tt := range []struct{ size, want uint64 }{
		{1, 1}, {3, 4}, {12, 16}, {128, 128}, {129, 128}, {4096, 128},
	} {
		if got := FieldAlign(tt.size); got != tt.want {
			t.Errorf("FieldAlign(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

// The struct built from a layout must place every field at the computed
// offset under the IR data layout.
func TestPackedStructMatchesLayout(t *testing.T) {
	types := []ir.Type{ir.I8, ir.I64, ir.I32, ir.NewArray(2, ir.I64)}
	dl := ir.DefaultDataLayout()
	sizes := make([]uint64, len(types))
	for i, typ := range types {
		sizes[i] = dl.SizeOf(typ)
	}
	pl := ComputePackedLayout(sizes, false)
	st := pl.StructType("Args", types)
	if len(st.Fields) != pl.NumStructFields {
		t.Fatalf("struct has %d fields, want %d", len(st.Fields), pl.NumStructFields)
	}
	for i, f := range pl.Fields {
		if got := dl.OffsetOf(st, f.StructIndex); got != f.Offset {
			t.Errorf("field %d: struct offset %d, want %d", i, got, f.Offset)
		}
	}
	if got := dl.SizeOf(st); got != pl.Size {
		t.Errorf("struct size %d, want %d", got, pl.Size)
	}
}

func TestKernelArgMappingKind(t *testing.T) {
	tests := []struct {
		m    KernelArgMapping
		want ArgKind
	}{
		{DirectArg(0, 1), ArgDirect},
		{SchedulingArg(1, 0), ArgScheduling},
		{PackedArg(2, 3), ArgPacked},
		{KernelArgMapping{OldArgIdx: 3, NewArgIdx: NoIndex, SchedParamIdx: NoIndex, PackedStructFieldIdx: NoIndex}, ArgInvalid},
		{KernelArgMapping{OldArgIdx: 4, NewArgIdx: 1, SchedParamIdx: 0, PackedStructFieldIdx: NoIndex}, ArgInvalid},
	}
	for _, tt := range tests {
		if got := tt.m.Kind(); got != tt.want {
			t.Errorf("%+v.Kind() = %v, want %v", tt.m, got, tt.want)
		}
	}

	if err := ValidateMappings([]KernelArgMapping{DirectArg(0, 1), PackedArg(1, 0)}, 2); err != nil {
		t.Errorf("ValidateMappings: %v", err)
	}
	if err := ValidateMappings([]KernelArgMapping{DirectArg(0, 1)}, 2); err == nil {
		t.Error("ValidateMappings accepted a missing argument")
	}
	if err := ValidateMappings([]KernelArgMapping{tests[4].m}, 1); err == nil {
		t.Error("ValidateMappings accepted a doubly mapped argument")
	}
}

func TestLocalIDRoundTrip(t *testing.T) {
	for _, ls := range [][MaxDims]uint64{{1, 1, 1}, {4, 1, 1}, {3, 5, 2}, {8, 8, 4}, {1, 7, 3}} {
		total := ls[0] * ls[1] * ls[2]
		for tid := uint64(0); tid < total; tid++ {
			id := DecomposeLocalID(tid, ls)
			for d := range MaxDims {
				if id[d] >= ls[d] {
					t.Fatalf("local size %v, thread %d: id %v out of range", ls, tid, id)
				}
			}
			if back := id[0] + id[1]*ls[0] + id[2]*ls[0]*ls[1]; back != tid {
				t.Fatalf("local size %v: thread %d -> %v -> %d", ls, tid, id, back)
			}
		}
	}
}

func TestGroupIDFromSlice(t *testing.T) {
	const ngY, ngZ = 3, 4
	for z := uint64(0); z < ngZ; z++ {
		for y := uint64(0); y < ngY; y++ {
			got := GroupIDFromSlice(5, LinearSlice(y, z, ngY), ngY)
			if want := [MaxDims]uint64{5, y, z}; got != want {
				t.Errorf("GroupIDFromSlice(5, slice(%d,%d)) = %v, want %v", y, z, got, want)
			}
		}
	}
}

func TestFieldNames(t *testing.T) {
	if got := ExecStateThreadID.String(); got != "thread_id" {
		t.Errorf("ExecStateThreadID.String() = %q", got)
	}
	if got := WorkGroupInfoGroupID.String(); got != "group_id" {
		t.Errorf("WorkGroupInfoGroupID.String() = %q", got)
	}
	if got := ExecStateField(99).String(); got != "unknown" {
		t.Errorf("ExecStateField(99).String() = %q", got)
	}
}

func TestNewExecState(t *testing.T) {
	st := NewExecState(2, [MaxDims]uint64{4, 5, 1}, [MaxDims]uint64{8, 2, 1}, [MaxDims]uint64{16, 0, 0})
	if st.Magic != ExecStateMagicValue {
		t.Errorf("Magic = %#x, want %#x", st.Magic, uint32(ExecStateMagicValue))
	}
	if st.NumGroupsPerCall != st.NumGroups {
		t.Errorf("NumGroupsPerCall = %v, want %v", st.NumGroupsPerCall, st.NumGroups)
	}
	if got := st.LocalLinearSize(); got != 16 {
		t.Errorf("LocalLinearSize() = %d, want 16", got)
	}
}
