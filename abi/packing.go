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

import "github.com/ajroetker/go-mux/ir"

// MaxPackedAlign caps the alignment of a packed-argument field.
const MaxPackedAlign = 128

// PackedField is the placement of one argument in the packed-argument struct.
type PackedField struct {
	Size   uint64
	Align  uint64
	Offset uint64

	// PadBefore is the number of padding bytes inserted before the field.
	// The struct carries an explicit [PadBefore x i8] field for it.
	PadBefore uint64

	// StructIndex is the index of the field in the packed struct, counting
	// padding fields.
	StructIndex int
}

// PackedLayout is the layout of the packed-argument struct.
type PackedLayout struct {
	Fields []PackedField

	// Size is the end offset of the last field. There is no tail padding.
	Size uint64

	// NumStructFields counts argument and padding fields.
	NumStructFields int
}

// FieldAlign returns the alignment of a packed field of size bytes: the next
// power of two, capped at MaxPackedAlign.
func FieldAlign(size uint64) uint64 {
	return min(ir.PowerOf2Ceil(size), MaxPackedAlign)
}

// ComputePackedLayout places fields of the given sizes in order. Unless
// noPadding is set, each field starts at a multiple of FieldAlign(size) and
// an explicit padding field fills any gap. Callers that build the struct by
// hand must use the same algorithm.
func ComputePackedLayout(sizes []uint64, noPadding bool) PackedLayout {
	var layout PackedLayout
	var offset uint64
	idx := 0
	for _, size := range sizes {
		f := PackedField{Size: size, Align: 1}
		if !noPadding {
			f.Align = FieldAlign(size)
			aligned := ir.AlignTo(offset, f.Align)
			f.PadBefore = aligned - offset
			offset = aligned
		}
		if f.PadBefore > 0 {
			idx++
		}
		f.Offset = offset
		f.StructIndex = idx
		idx++
		offset += size
		layout.Fields = append(layout.Fields, f)
	}
	layout.Size = offset
	layout.NumStructFields = idx
	return layout
}

// StructType builds the LLVM-packed struct for the layout, given the IR type
// of every argument field in order.
func (pl PackedLayout) StructType(name string, fieldTypes []ir.Type) *ir.StructType {
	st := &ir.StructType{Name: name, Packed: true}
	for i, f := range pl.Fields {
		if f.PadBefore > 0 {
			st.Fields = append(st.Fields, ir.NewArray(f.PadBefore, ir.I8))
		}
		st.Fields = append(st.Fields, fieldTypes[i])
	}
	return st
}
