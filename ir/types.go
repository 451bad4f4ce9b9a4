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

// Package ir provides a small LLVM-shaped intermediate representation for
// compute kernels: typed values, basic blocks of instructions, functions with
// attributes and debug information, and modules owning named struct types.
//
// The compiler passes in compiler/passes rewrite this IR to thread scheduling
// parameters, wrap kernels behind a stable ABI and lower the work-item
// execution model. The interpreter in ir/interp executes it.
package ir

import (
	"fmt"
	"strings"
)

// Type is an IR type.
type Type interface {
	// String returns the textual form of the type (e.g. "i32", "ptr addrspace(3)").
	String() string

	// Equal reports whether two types are identical.
	Equal(other Type) bool
}

// VoidType is the type of functions returning nothing.
type VoidType struct{}

func (*VoidType) String() string { return "void" }

// Equal implements Type.
func (*VoidType) Equal(other Type) bool {
	_, ok := other.(*VoidType)
	return ok
}

// IntType is an arbitrary-width integer type.
type IntType struct {
	Bits int
}

func (t *IntType) String() string { return fmt.Sprintf("i%d", t.Bits) }

// Equal implements Type.
func (t *IntType) Equal(other Type) bool {
	o, ok := other.(*IntType)
	return ok && o.Bits == t.Bits
}

// Mask returns the bit mask selecting the low Bits bits.
func (t *IntType) Mask() uint64 {
	if t.Bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(t.Bits)) - 1
}

// FloatType is an IEEE floating point type (32 or 64 bits).
type FloatType struct {
	Bits int
}

func (t *FloatType) String() string {
	if t.Bits == 64 {
		return "double"
	}
	return "float"
}

// Equal implements Type.
func (t *FloatType) Equal(other Type) bool {
	o, ok := other.(*FloatType)
	return ok && o.Bits == t.Bits
}

// PointerType is an opaque pointer into an address space.
type PointerType struct {
	AddrSpace int
}

func (t *PointerType) String() string {
	if t.AddrSpace == 0 {
		return "ptr"
	}
	return fmt.Sprintf("ptr addrspace(%d)", t.AddrSpace)
}

// Equal implements Type.
func (t *PointerType) Equal(other Type) bool {
	o, ok := other.(*PointerType)
	return ok && o.AddrSpace == t.AddrSpace
}

// ArrayType is a fixed-length array.
type ArrayType struct {
	Len  uint64
	Elem Type
}

func (t *ArrayType) String() string { return fmt.Sprintf("[%d x %s]", t.Len, t.Elem) }

// Equal implements Type.
func (t *ArrayType) Equal(other Type) bool {
	o, ok := other.(*ArrayType)
	return ok && o.Len == t.Len && o.Elem.Equal(t.Elem)
}

// StructType is either a named struct (Name != "") owned by a module, or a
// literal struct compared structurally.
type StructType struct {
	Name   string
	Fields []Type

	// Packed structs have no implicit padding and byte alignment.
	Packed bool
}

func (t *StructType) String() string {
	if t.Name != "" {
		return "%" + t.Name
	}
	return t.Body()
}

// Body returns the field list in textual form, regardless of the name.
func (t *StructType) Body() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	if t.Packed {
		return "<{ " + strings.Join(parts, ", ") + " }>"
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// Equal implements Type. Named structs are equal only when their names match.
func (t *StructType) Equal(other Type) bool {
	o, ok := other.(*StructType)
	if !ok {
		return false
	}
	if t.Name != "" || o.Name != "" {
		return t.Name == o.Name
	}
	if t.Packed != o.Packed || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if !t.Fields[i].Equal(o.Fields[i]) {
			return false
		}
	}
	return true
}

// FuncType is the signature of a function.
type FuncType struct {
	Ret    Type
	Params []Type
}

func (t *FuncType) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%s (%s)", t.Ret, strings.Join(parts, ", "))
}

// Equal implements Type.
func (t *FuncType) Equal(other Type) bool {
	o, ok := other.(*FuncType)
	if !ok || !o.Ret.Equal(t.Ret) || len(o.Params) != len(t.Params) {
		return false
	}
	for i := range t.Params {
		if !t.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

// Commonly used types.
var (
	Void   = &VoidType{}
	I1     = &IntType{Bits: 1}
	I8     = &IntType{Bits: 8}
	I16    = &IntType{Bits: 16}
	I32    = &IntType{Bits: 32}
	I64    = &IntType{Bits: 64}
	Float  = &FloatType{Bits: 32}
	Double = &FloatType{Bits: 64}
	Ptr    = &PointerType{AddrSpace: 0}
)

// Address spaces following the SPIR convention used by OpenCL front-ends.
const (
	AddrSpacePrivate  = 0
	AddrSpaceGlobal   = 1
	AddrSpaceConstant = 2
	AddrSpaceLocal    = 3
)

// NewPointer returns a pointer type in the given address space.
func NewPointer(addrSpace int) *PointerType {
	if addrSpace == 0 {
		return Ptr
	}
	return &PointerType{AddrSpace: addrSpace}
}

// NewArray returns an array type.
func NewArray(n uint64, elem Type) *ArrayType {
	return &ArrayType{Len: n, Elem: elem}
}

// NewStruct returns a literal (unnamed) struct type.
func NewStruct(fields ...Type) *StructType {
	return &StructType{Fields: fields}
}

// NewFuncType returns a function type.
func NewFuncType(ret Type, params ...Type) *FuncType {
	return &FuncType{Ret: ret, Params: params}
}

// AsInt returns t as an *IntType if it is one.
func AsInt(t Type) (*IntType, bool) {
	it, ok := t.(*IntType)
	return it, ok
}

// IsPointer reports whether t is a pointer type.
func IsPointer(t Type) bool {
	_, ok := t.(*PointerType)
	return ok
}

// IsVoid reports whether t is void.
func IsVoid(t Type) bool {
	_, ok := t.(*VoidType)
	return ok
}
