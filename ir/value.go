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

// Value is anything that can be used as an instruction operand:
// parameters, constants, functions and value-producing instructions.
type Value interface {
	Type() Type
	isValue()
}

// ParamAttrs are the attributes attached to a function parameter.
type ParamAttrs struct {
	// ByVal marks a pointer parameter whose pointee (of this type) is passed
	// by value.
	ByVal Type

	NoAlias  bool
	NonNull  bool
	ReadOnly bool

	// Align is the known alignment of a pointer parameter, 0 if unknown.
	Align uint64
}

// IsZero reports whether no attribute is set.
func (a ParamAttrs) IsZero() bool {
	return a.ByVal == nil && !a.NoAlias && !a.NonNull && !a.ReadOnly && a.Align == 0
}

// Param is a formal function parameter.
type Param struct {
	Name string

	// DebugName is the name recorded in debug information, when it differs
	// from Name.
	DebugName string

	Typ   Type
	Attrs ParamAttrs

	// Parent and Index are set when the parameter is attached to a function.
	Parent *Func
	Index  int
}

// NewParam creates a detached parameter.
func NewParam(name string, typ Type) *Param {
	return &Param{Name: name, Typ: typ}
}

// Type implements Value.
func (p *Param) Type() Type { return p.Typ }
func (*Param) isValue()     {}

// ConstInt is an integer constant. V holds the value truncated to the type width.
type ConstInt struct {
	Typ *IntType
	V   uint64
}

// NewConstInt returns an integer constant of type t.
func NewConstInt(t *IntType, v int64) *ConstInt {
	return &ConstInt{Typ: t, V: uint64(v) & t.Mask()}
}

// ConstI32 returns an i32 constant.
func ConstI32(v int64) *ConstInt { return NewConstInt(I32, v) }

// ConstI64 returns an i64 constant.
func ConstI64(v int64) *ConstInt { return NewConstInt(I64, v) }

// Type implements Value.
func (c *ConstInt) Type() Type { return c.Typ }
func (*ConstInt) isValue()     {}

// Signed returns the value sign-extended from the type width.
func (c *ConstInt) Signed() int64 {
	if c.Typ.Bits >= 64 {
		return int64(c.V)
	}
	shift := uint(64 - c.Typ.Bits)
	return int64(c.V<<shift) >> shift
}

// ConstNull is the null pointer of a pointer type.
type ConstNull struct {
	Typ *PointerType
}

// Type implements Value.
func (c *ConstNull) Type() Type { return c.Typ }
func (*ConstNull) isValue()     {}

// Subprogram is the debug description of a function.
type Subprogram struct {
	Name string
	File string
	Line int
}

// DebugLoc is a source location attached to an instruction. Line 0 marks a
// compiler-synthesized location inside Scope.
type DebugLoc struct {
	Line  int
	Col   int
	Scope *Subprogram
}

// SyntheticLoc returns a line-0 location in sp, or nil if sp is nil.
func SyntheticLoc(sp *Subprogram) *DebugLoc {
	if sp == nil {
		return nil
	}
	return &DebugLoc{Scope: sp}
}
