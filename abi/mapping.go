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
	"fmt"

	"github.com/pkg/errors"
)

// NoIndex marks an index field of KernelArgMapping that does not apply.
const NoIndex = -1

// ArgKind classifies how a kernel argument reaches the kernel body.
type ArgKind int

const (
	// ArgDirect arguments are exposed as parameters of the wrapper.
	ArgDirect ArgKind = iota

	// ArgScheduling arguments are scheduling parameters the wrapper
	// initializes itself.
	ArgScheduling

	// ArgPacked arguments are loaded from the packed-argument struct.
	ArgPacked

	// ArgInvalid is reported for mappings that are not exactly one kind.
	ArgInvalid
)

func (k ArgKind) String() string {
	switch k {
	case ArgDirect:
		return "direct"
	case ArgScheduling:
		return "scheduling"
	case ArgPacked:
		return "packed"
	default:
		return "invalid"
	}
}

// KernelArgMapping records where original kernel argument OldArgIdx went.
// Exactly one of the other indices is set; the rest are NoIndex.
type KernelArgMapping struct {
	OldArgIdx            int
	NewArgIdx            int
	SchedParamIdx        int
	PackedStructFieldIdx int
}

// DirectArg maps old to wrapper parameter newIdx.
func DirectArg(old, newIdx int) KernelArgMapping {
	return KernelArgMapping{OldArgIdx: old, NewArgIdx: newIdx, SchedParamIdx: NoIndex, PackedStructFieldIdx: NoIndex}
}

// SchedulingArg maps old to scheduling slot slot.
func SchedulingArg(old, slot int) KernelArgMapping {
	return KernelArgMapping{OldArgIdx: old, NewArgIdx: NoIndex, SchedParamIdx: slot, PackedStructFieldIdx: NoIndex}
}

// PackedArg maps old to field field of the packed struct.
func PackedArg(old, field int) KernelArgMapping {
	return KernelArgMapping{OldArgIdx: old, NewArgIdx: NoIndex, SchedParamIdx: NoIndex, PackedStructFieldIdx: field}
}

// Kind returns the classification, or ArgInvalid when zero or several
// indices are set.
func (m KernelArgMapping) Kind() ArgKind {
	kind, n := ArgInvalid, 0
	if m.NewArgIdx != NoIndex {
		kind, n = ArgDirect, n+1
	}
	if m.SchedParamIdx != NoIndex {
		kind, n = ArgScheduling, n+1
	}
	if m.PackedStructFieldIdx != NoIndex {
		kind, n = ArgPacked, n+1
	}
	if n != 1 {
		return ArgInvalid
	}
	return kind
}

func (m KernelArgMapping) String() string {
	switch m.Kind() {
	case ArgDirect:
		return fmt.Sprintf("arg %d -> param %d", m.OldArgIdx, m.NewArgIdx)
	case ArgScheduling:
		return fmt.Sprintf("arg %d -> sched slot %d", m.OldArgIdx, m.SchedParamIdx)
	case ArgPacked:
		return fmt.Sprintf("arg %d -> packed field %d", m.OldArgIdx, m.PackedStructFieldIdx)
	}
	return fmt.Sprintf("arg %d -> invalid", m.OldArgIdx)
}

// ValidateMappings checks that mappings cover arguments 0..numArgs-1 once
// each, in order, with exactly one kind each.
func ValidateMappings(mappings []KernelArgMapping, numArgs int) error {
	if len(mappings) != numArgs {
		return errors.Errorf("%d mappings for %d arguments", len(mappings), numArgs)
	}
	for i, m := range mappings {
		if m.OldArgIdx != i {
			return errors.Errorf("mapping %d is for argument %d", i, m.OldArgIdx)
		}
		if m.Kind() == ArgInvalid {
			return errors.Errorf("argument %d is not mapped to exactly one kind: %+v", i, m)
		}
	}
	return nil
}
