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
	"github.com/pkg/errors"
)

// Verify checks structural well-formedness of every function in m and
// returns the first problem found.
//
// Beyond typing, it enforces that every call inside a function carrying a
// debug subprogram has a debug location scoped to that subprogram.
func Verify(m *Module) error {
	names := make(map[string]bool, len(m.Funcs))
	for _, f := range m.Funcs {
		if names[f.Name] {
			return errors.Errorf("duplicate function name %q", f.Name)
		}
		names[f.Name] = true
		if err := VerifyFunc(f); err != nil {
			return errors.WithMessagef(err, "function @%s", f.Name)
		}
	}
	return nil
}

// VerifyFunc checks a single function.
func VerifyFunc(f *Func) error {
	if len(f.Params) != len(f.Sig.Params) {
		return errors.Errorf("%d params but signature has %d", len(f.Params), len(f.Sig.Params))
	}
	for i, p := range f.Params {
		if p.Parent != f || p.Index != i {
			return errors.Errorf("param %d (%s) not attached to function", i, p.Name)
		}
		if !p.Typ.Equal(f.Sig.Params[i]) {
			return errors.Errorf("param %d type %s does not match signature %s", i, p.Typ, f.Sig.Params[i])
		}
	}
	defined := make(map[*Inst]bool)
	f.Walk(func(inst *Inst) { defined[inst] = true })
	inFunc := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		inFunc[b] = true
	}

	for _, b := range f.Blocks {
		if b.Terminator() == nil {
			return errors.Errorf("block %q has no terminator", b.Name)
		}
		for i, inst := range b.Insts {
			if inst.Block != b {
				return errors.Errorf("block %q: instruction %d has wrong parent", b.Name, i)
			}
			if inst.Op.IsTerminator() && i != len(b.Insts)-1 {
				return errors.Errorf("block %q: terminator %s in the middle", b.Name, inst.Op)
			}
			for _, s := range inst.Succs {
				if !inFunc[s] {
					return errors.Errorf("block %q: branch to a block of another function", b.Name)
				}
			}
			if err := verifyOperands(f, inst, defined); err != nil {
				return errors.WithMessagef(err, "block %q instruction %d (%s)", b.Name, i, inst.Op)
			}
		}
	}
	return nil
}

func verifyOperands(f *Func, inst *Inst, defined map[*Inst]bool) error {
	for i, op := range inst.Operands {
		switch v := op.(type) {
		case nil:
			return errors.Errorf("operand %d is nil", i)
		case *Param:
			if v.Parent != f {
				return errors.Errorf("operand %d is a parameter of another function", i)
			}
		case *Inst:
			if !defined[v] {
				return errors.Errorf("operand %d is an instruction outside the function", i)
			}
		}
	}
	want := func(n int) error {
		if len(inst.Operands) != n {
			return errors.Errorf("expected %d operands, got %d", n, len(inst.Operands))
		}
		return nil
	}

	switch {
	case inst.Op == OpAlloca:
		if inst.ElemType == nil {
			return errors.New("alloca without element type")
		}
	case inst.Op == OpLoad:
		if err := want(1); err != nil {
			return err
		}
		if !IsPointer(inst.Operands[0].Type()) {
			return errors.Errorf("load from non-pointer %s", inst.Operands[0].Type())
		}
	case inst.Op == OpStore:
		if err := want(2); err != nil {
			return err
		}
		if !IsPointer(inst.Operands[1].Type()) {
			return errors.Errorf("store to non-pointer %s", inst.Operands[1].Type())
		}
	case inst.Op == OpGEP:
		if len(inst.Operands) < 2 || !IsPointer(inst.Operands[0].Type()) {
			return errors.New("malformed getelementptr")
		}
	case inst.Op.IsBinary(), inst.Op == OpICmp:
		if err := want(2); err != nil {
			return err
		}
		if _, ok := AsInt(inst.Operands[0].Type()); !ok {
			return errors.Errorf("integer op on %s", inst.Operands[0].Type())
		}
		if !inst.Operands[0].Type().Equal(inst.Operands[1].Type()) {
			return errors.Errorf("operand types differ: %s vs %s", inst.Operands[0].Type(), inst.Operands[1].Type())
		}
	case inst.Op == OpSelect:
		if err := want(3); err != nil {
			return err
		}
		if !inst.Operands[0].Type().Equal(I1) {
			return errors.New("select condition is not i1")
		}
	case inst.Op == OpCall:
		callee := inst.Callee
		if callee == nil {
			return errors.New("call without callee")
		}
		if callee.Parent != f.Parent {
			return errors.Errorf("call to @%s outside the module", callee.Name)
		}
		if len(inst.Operands) != len(callee.Sig.Params) {
			return errors.Errorf("call to @%s with %d args, want %d", callee.Name, len(inst.Operands), len(callee.Sig.Params))
		}
		for i, a := range inst.Operands {
			if !a.Type().Equal(callee.Sig.Params[i]) {
				return errors.Errorf("call to @%s arg %d has type %s, want %s", callee.Name, i, a.Type(), callee.Sig.Params[i])
			}
		}
		if f.Subprogram != nil && (inst.Loc == nil || inst.Loc.Scope != f.Subprogram) {
			return errors.Errorf("call to @%s in a function with debug info lacks a debug location", callee.Name)
		}
	case inst.Op == OpCondBr:
		if err := want(1); err != nil {
			return err
		}
		if len(inst.Succs) != 2 {
			return errors.New("conditional branch needs two successors")
		}
	case inst.Op == OpBr:
		if len(inst.Succs) != 1 {
			return errors.New("branch needs one successor")
		}
	case inst.Op == OpRet:
		ret := f.ReturnType()
		if IsVoid(ret) {
			return want(0)
		}
		if err := want(1); err != nil {
			return err
		}
		if !inst.Operands[0].Type().Equal(ret) {
			return errors.Errorf("returns %s, want %s", inst.Operands[0].Type(), ret)
		}
	}
	return nil
}
