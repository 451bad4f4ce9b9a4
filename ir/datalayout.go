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

package ir

import "fmt"

// DataLayout answers size, alignment and offset questions for types.
type DataLayout struct {
	// PointerSize is the size and alignment of pointers in bytes.
	PointerSize uint64
}

// DefaultDataLayout returns a 64-bit little-endian layout.
func DefaultDataLayout() *DataLayout {
	return &DataLayout{PointerSize: 8}
}

// StructLayout holds the computed field offsets of a struct.
type StructLayout struct {
	Offsets []uint64
	Size    uint64
	Align   uint64
}

// SizeOf returns the allocation size of t in bytes, including tail padding.
func (dl *DataLayout) SizeOf(t Type) uint64 {
	switch t := t.(type) {
	case *IntType:
		return intBytes(t.Bits)
	case *FloatType:
		return uint64(t.Bits / 8)
	case *PointerType:
		return dl.PointerSize
	case *ArrayType:
		return t.Len * dl.SizeOf(t.Elem)
	case *StructType:
		return dl.StructLayout(t).Size
	case *VoidType, *FuncType:
		return 0
	default:
		panic(fmt.Sprintf("ir: SizeOf unknown type %T", t))
	}
}

// AlignOf returns the ABI alignment of t in bytes.
func (dl *DataLayout) AlignOf(t Type) uint64 {
	switch t := t.(type) {
	case *IntType:
		return intBytes(t.Bits)
	case *FloatType:
		return uint64(t.Bits / 8)
	case *PointerType:
		return dl.PointerSize
	case *ArrayType:
		return dl.AlignOf(t.Elem)
	case *StructType:
		return dl.StructLayout(t).Align
	default:
		return 1
	}
}

// StructLayout computes field offsets for st. Non-packed structs align each
// field naturally and round the total size up to the struct alignment.
func (dl *DataLayout) StructLayout(st *StructType) *StructLayout {
	sl := &StructLayout{Offsets: make([]uint64, len(st.Fields)), Align: 1}
	var offset uint64
	for i, f := range st.Fields {
		if !st.Packed {
			a := dl.AlignOf(f)
			offset = AlignTo(offset, a)
			sl.Align = max(sl.Align, a)
		}
		sl.Offsets[i] = offset
		offset += dl.SizeOf(f)
	}
	sl.Size = AlignTo(offset, sl.Align)
	return sl
}

// OffsetOf returns the byte offset of field idx within st.
func (dl *DataLayout) OffsetOf(st *StructType, idx int) uint64 {
	return dl.StructLayout(st).Offsets[idx]
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align uint64) uint64 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// PowerOf2Ceil returns the smallest power of two >= v (1 for v == 0).
func PowerOf2Ceil(v uint64) uint64 {
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

func intBytes(bits int) uint64 {
	return PowerOf2Ceil(uint64((bits + 7) / 8))
}
