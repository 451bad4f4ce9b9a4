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
)

// ValueMap maps values of a source function to values of its clone.
type ValueMap map[Value]Value

func (vm ValueMap) lookup(v Value) Value {
	if mapped, ok := vm[v]; ok {
		return mapped
	}
	return v
}

// CloneBody copies the blocks of src into dst, which must have no body yet.
// vmap must map every parameter of src used in its body; it is extended with
// the cloned instructions. Debug locations scoped to src's subprogram are
// rescoped to dst's.
func CloneBody(dst, src *Func, vmap ValueMap) {
	if !dst.IsDeclaration() {
		panic(fmt.Sprintf("ir: CloneBody into %q which already has a body", dst.Name))
	}
	blocks := make(map[*Block]*Block, len(src.Blocks))
	for _, sb := range src.Blocks {
		blocks[sb] = dst.NewBlock(sb.Name)
	}

	// Create all instructions first so forward references resolve.
	var pairs [][2]*Inst
	for _, sb := range src.Blocks {
		db := blocks[sb]
		for _, si := range sb.Insts {
			di := &Inst{
				Op:        si.Op,
				Name:      si.Name,
				Typ:       si.Typ,
				ElemType:  si.ElemType,
				Align:     si.Align,
				Pred:      si.Pred,
				Callee:    si.Callee,
				Semantics: si.Semantics,
				Loc:       rescope(si.Loc, src.Subprogram, dst.Subprogram),
			}
			db.Append(di)
			vmap[si] = di
			pairs = append(pairs, [2]*Inst{si, di})
		}
	}
	for _, p := range pairs {
		si, di := p[0], p[1]
		di.Operands = make([]Value, len(si.Operands))
		for i, op := range si.Operands {
			di.Operands[i] = vmap.lookup(op)
		}
		if len(si.Succs) > 0 {
			di.Succs = make([]*Block, len(si.Succs))
			for i, s := range si.Succs {
				di.Succs[i] = blocks[s]
			}
		}
	}
}

func rescope(loc *DebugLoc, from, to *Subprogram) *DebugLoc {
	if loc == nil {
		return nil
	}
	if loc.Scope == from && to != nil {
		return &DebugLoc{Line: loc.Line, Col: loc.Col, Scope: to}
	}
	return loc
}

// CloneParam returns a detached copy of p.
func CloneParam(p *Param) *Param {
	return &Param{Name: p.Name, DebugName: p.DebugName, Typ: p.Typ, Attrs: p.Attrs}
}

// ReplaceCall substitutes call with a call to callee using args, keeping the
// position and debug location. The old call's result uses are rewritten.
func ReplaceCall(call *Inst, callee *Func, args []Value) *Inst {
	repl := &Inst{
		Op:       OpCall,
		Name:     call.Name,
		Typ:      callee.ReturnType(),
		Callee:   callee,
		Operands: slices.Clone(args),
		Loc:      call.Loc,
	}
	fn := call.Parent()
	call.Block.Replace(call, repl)
	if call.HasResult() {
		fn.ReplaceAllUsesWith(call, repl)
	}
	return repl
}
