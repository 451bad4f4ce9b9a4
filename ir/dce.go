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

// GlobalDCE removes internal functions unreachable from any external
// function, and declarations nothing references. It returns the names of
// the removed functions.
func GlobalDCE(m *Module) []string {
	live := make(map[*Func]bool)
	var work []*Func
	for _, f := range m.Funcs {
		if f.Linkage == LinkageExternal && !f.IsDeclaration() {
			live[f] = true
			work = append(work, f)
		}
	}
	for len(work) > 0 {
		f := work[len(work)-1]
		work = work[:len(work)-1]
		f.Walk(func(inst *Inst) {
			refs := make([]*Func, 0, 1)
			if inst.Callee != nil {
				refs = append(refs, inst.Callee)
			}
			for _, op := range inst.Operands {
				if fn, ok := op.(*Func); ok {
					refs = append(refs, fn)
				}
			}
			for _, r := range refs {
				if !live[r] {
					live[r] = true
					work = append(work, r)
				}
			}
		})
	}

	var removed []string
	kept := m.Funcs[:0]
	for _, f := range m.Funcs {
		if live[f] {
			kept = append(kept, f)
			continue
		}
		removed = append(removed, f.Name)
		f.Parent = nil
	}
	m.Funcs = kept
	return removed
}
