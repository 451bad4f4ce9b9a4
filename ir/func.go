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

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Linkage controls the visibility of a function outside its module.
type Linkage int

const (
	LinkageExternal Linkage = iota

	// LinkageInternal functions are invisible outside the module and are
	// removed by GlobalDCE once nothing references them.
	LinkageInternal
)

func (l Linkage) String() string {
	if l == LinkageInternal {
		return "internal"
	}
	return "external"
}

// Func is a function definition (with blocks) or declaration (without).
type Func struct {
	Name    string
	Sig     *FuncType
	Params  []*Param
	Blocks  []*Block
	Linkage Linkage
	Attrs   FuncAttrs

	// Subprogram is the debug description, nil when the function carries no
	// debug information.
	Subprogram *Subprogram

	Parent *Module
}

// Type implements Value: a function used as an operand is a pointer.
func (f *Func) Type() Type { return Ptr }
func (*Func) isValue()     {}

// IsDeclaration reports whether f has no body.
func (f *Func) IsDeclaration() bool { return len(f.Blocks) == 0 }

// ReturnType returns the declared return type.
func (f *Func) ReturnType() Type { return f.Sig.Ret }

// NewBlock appends an empty basic block.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// EntryBlock returns the first block, or nil for declarations.
func (f *Func) EntryBlock() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Walk calls fn for every instruction in block order.
func (f *Func) Walk(fn func(*Inst)) {
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			fn(inst)
		}
	}
}

// Calls returns every call instruction in f.
func (f *Func) Calls() []*Inst {
	var calls []*Inst
	for _, b := range f.Blocks {
		calls = append(calls, b.Calls()...)
	}
	return calls
}

// ReplaceAllUsesWith rewrites every operand of f equal to old into repl.
func (f *Func) ReplaceAllUsesWith(old, repl Value) {
	f.Walk(func(inst *Inst) {
		for i, op := range inst.Operands {
			if op == old {
				inst.Operands[i] = repl
			}
		}
	})
}

// DeleteBody turns f into a declaration.
func (f *Func) DeleteBody() {
	f.Blocks = nil
}

// setParams attaches params to f and rebuilds the signature.
func (f *Func) setParams(ret Type, params []*Param) {
	f.Params = params
	types := make([]Type, len(params))
	for i, p := range params {
		p.Parent = f
		p.Index = i
		types[i] = p.Typ
	}
	f.Sig = NewFuncType(ret, types...)
}

// Module owns functions and named struct types, and fixes the data layout.
type Module struct {
	Name   string
	Layout *DataLayout
	Funcs  []*Func

	structs     map[string]*StructType
	structOrder []string
}

// NewModule creates an empty module with the default data layout.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		Layout:  DefaultDataLayout(),
		structs: make(map[string]*StructType),
	}
}

// NewFunc creates a function and adds it to the module. If name is taken, a
// numeric suffix makes it unique.
func (m *Module) NewFunc(name string, ret Type, params ...*Param) *Func {
	f := &Func{Name: m.UniqueName(name), Parent: m}
	f.setParams(ret, params)
	m.Funcs = append(m.Funcs, f)
	return f
}

// Func returns the function called name, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// GetOrInsertFunc returns the function called name, declaring it with sig
// when absent. An existing function with a different signature is an error.
func (m *Module) GetOrInsertFunc(name string, sig *FuncType) (*Func, error) {
	if f := m.Func(name); f != nil {
		if !f.Sig.Equal(sig) {
			return nil, errors.Errorf("function %q exists with type %s, want %s", name, f.Sig, sig)
		}
		return f, nil
	}
	params := make([]*Param, len(sig.Params))
	for i, t := range sig.Params {
		params[i] = NewParam("", t)
	}
	return m.NewFunc(name, sig.Ret, params...), nil
}

// RemoveFunc deletes f from the module.
func (m *Module) RemoveFunc(f *Func) {
	m.Funcs = slices.DeleteFunc(m.Funcs, func(x *Func) bool { return x == f })
	f.Parent = nil
}

// Rename gives f a new name, made unique within the module, and returns it.
func (m *Module) Rename(f *Func, name string) string {
	if f.Name == name {
		return name
	}
	f.Name = ""
	f.Name = m.UniqueName(name)
	return f.Name
}

// UniqueName returns base if unused, otherwise base.N for the first free N.
func (m *Module) UniqueName(base string) string {
	if base == "" || m.Func(base) == nil {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", base, i)
		if m.Func(candidate) == nil {
			return candidate
		}
	}
}

// NamedStruct returns the named struct type, or nil.
func (m *Module) NamedStruct(name string) *StructType {
	return m.structs[name]
}

// GetOrCreateStruct returns the named struct called name, creating it with
// the fields from build on first use. The type lives as long as the module.
func (m *Module) GetOrCreateStruct(name string, packed bool, build func() []Type) *StructType {
	if st, ok := m.structs[name]; ok {
		return st
	}
	st := &StructType{Name: name, Fields: build(), Packed: packed}
	m.structs[name] = st
	m.structOrder = append(m.structOrder, name)
	return st
}

// Structs returns the named structs in creation order.
func (m *Module) Structs() []*StructType {
	out := make([]*StructType, len(m.structOrder))
	for i, name := range m.structOrder {
		out[i] = m.structs[name]
	}
	return out
}

// CallSites returns every call to f in the module.
func (m *Module) CallSites(f *Func) []*Inst {
	var sites []*Inst
	for _, caller := range m.Funcs {
		for _, call := range caller.Calls() {
			if call.Callee == f {
				sites = append(sites, call)
			}
		}
	}
	return sites
}

// CallerMap returns, for each function, the distinct functions calling it.
func (m *Module) CallerMap() map[*Func][]*Func {
	callers := make(map[*Func][]*Func)
	for _, caller := range m.Funcs {
		for _, call := range caller.Calls() {
			if !slices.Contains(callers[call.Callee], caller) {
				callers[call.Callee] = append(callers[call.Callee], caller)
			}
		}
	}
	return callers
}
