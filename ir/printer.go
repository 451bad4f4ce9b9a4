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
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// String renders the module in an LLVM-like textual form.
func (m *Module) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "; module %s\n", m.Name)
	for _, st := range m.Structs() {
		fmt.Fprintf(&buf, "%%%s = type %s\n", st.Name, st.Body())
	}
	for _, f := range m.Funcs {
		buf.WriteString("\n")
		buf.WriteString(f.String())
	}
	return buf.String()
}

// String renders a single function.
func (f *Func) String() string {
	p := newPrinter(f)
	var buf bytes.Buffer
	keyword := "define"
	if f.IsDeclaration() {
		keyword = "declare"
	}
	fmt.Fprintf(&buf, "%s ", keyword)
	if f.Linkage == LinkageInternal {
		buf.WriteString("internal ")
	}
	fmt.Fprintf(&buf, "%s @%s(", f.Sig.Ret, f.Name)
	for i, param := range f.Params {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(param.Typ.String())
		if attrs := paramAttrString(param.Attrs); attrs != "" {
			buf.WriteString(" " + attrs)
		}
		buf.WriteString(" " + p.operand(param))
	}
	buf.WriteString(")")
	if attrs := f.Attrs.String(); attrs != "" {
		buf.WriteString(" " + attrs)
	}
	if f.Subprogram != nil {
		fmt.Fprintf(&buf, " !dbg(%s)", f.Subprogram.Name)
	}
	if f.IsDeclaration() {
		buf.WriteString("\n")
		return buf.String()
	}
	buf.WriteString(" {\n")
	for i, b := range f.Blocks {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "%s:\n", p.blockName(b))
		for _, inst := range b.Insts {
			buf.WriteString("  " + p.inst(inst) + "\n")
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

type printer struct {
	slots  map[Value]string
	blocks map[*Block]string
}

func newPrinter(f *Func) *printer {
	p := &printer{slots: make(map[Value]string), blocks: make(map[*Block]string)}
	next := 0
	used := make(map[string]bool)
	name := func(base string) string {
		if base == "" || used[base] {
			for {
				s := strconv.Itoa(next)
				next++
				if !used[s] {
					used[s] = true
					return s
				}
			}
		}
		used[base] = true
		return base
	}
	for _, param := range f.Params {
		p.slots[param] = "%" + name(param.Name)
	}
	for _, b := range f.Blocks {
		p.blocks[b] = name(b.Name)
		for _, inst := range b.Insts {
			if inst.HasResult() {
				p.slots[inst] = "%" + name(inst.Name)
			}
		}
	}
	return p
}

func (p *printer) blockName(b *Block) string {
	if name, ok := p.blocks[b]; ok {
		return name
	}
	return "<unknown-block>"
}

func (p *printer) operand(v Value) string {
	switch v := v.(type) {
	case *ConstInt:
		if v.Typ.Bits == 1 {
			if v.V != 0 {
				return "true"
			}
			return "false"
		}
		return strconv.FormatInt(v.Signed(), 10)
	case *ConstNull:
		return "null"
	case *Func:
		return "@" + v.Name
	case nil:
		return "<nil>"
	}
	if s, ok := p.slots[v]; ok {
		return s
	}
	return "<badref>"
}

func (p *printer) typed(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.Type().String() + " " + p.operand(v)
}

func (p *printer) inst(inst *Inst) string {
	var sb strings.Builder
	if inst.HasResult() {
		sb.WriteString(p.operand(inst) + " = ")
	}
	switch {
	case inst.Op == OpAlloca:
		fmt.Fprintf(&sb, "alloca %s", inst.ElemType)
		if len(inst.Operands) > 0 {
			fmt.Fprintf(&sb, ", %s", p.typed(inst.Operands[0]))
		}
	case inst.Op == OpLoad:
		fmt.Fprintf(&sb, "load %s, %s", inst.Typ, p.typed(inst.Operands[0]))
	case inst.Op == OpStore:
		fmt.Fprintf(&sb, "store %s, %s", p.typed(inst.Operands[0]), p.typed(inst.Operands[1]))
	case inst.Op == OpGEP:
		fmt.Fprintf(&sb, "getelementptr %s", inst.ElemType)
		for _, op := range inst.Operands {
			fmt.Fprintf(&sb, ", %s", p.typed(op))
		}
	case inst.Op.IsBinary():
		fmt.Fprintf(&sb, "%s %s, %s", inst.Op, p.typed(inst.Operands[0]), p.operand(inst.Operands[1]))
	case inst.Op == OpICmp:
		fmt.Fprintf(&sb, "icmp %s %s, %s", inst.Pred, p.typed(inst.Operands[0]), p.operand(inst.Operands[1]))
	case inst.Op == OpSelect:
		fmt.Fprintf(&sb, "select %s, %s, %s", p.typed(inst.Operands[0]), p.typed(inst.Operands[1]), p.typed(inst.Operands[2]))
	case inst.Op.IsCast():
		fmt.Fprintf(&sb, "%s %s to %s", inst.Op, p.typed(inst.Operands[0]), inst.Typ)
	case inst.Op == OpCall:
		args := make([]string, len(inst.Operands))
		for i, a := range inst.Operands {
			args[i] = p.typed(a)
		}
		fmt.Fprintf(&sb, "call %s @%s(%s)", inst.Typ, inst.Callee.Name, strings.Join(args, ", "))
	case inst.Op == OpFence:
		fmt.Fprintf(&sb, "fence semantics(0x%x)", inst.Semantics)
	case inst.Op == OpBr:
		fmt.Fprintf(&sb, "br label %%%s", p.blockName(inst.Succs[0]))
	case inst.Op == OpCondBr:
		fmt.Fprintf(&sb, "br %s, label %%%s, label %%%s", p.typed(inst.Operands[0]),
			p.blockName(inst.Succs[0]), p.blockName(inst.Succs[1]))
	case inst.Op == OpRet:
		if len(inst.Operands) == 0 {
			sb.WriteString("ret void")
		} else {
			fmt.Fprintf(&sb, "ret %s", p.typed(inst.Operands[0]))
		}
	default:
		sb.WriteString(inst.Op.String())
	}
	if inst.Align != 0 {
		fmt.Fprintf(&sb, ", align %d", inst.Align)
	}
	if inst.Loc != nil {
		fmt.Fprintf(&sb, ", !dbg(line %d)", inst.Loc.Line)
	}
	return sb.String()
}

func paramAttrString(a ParamAttrs) string {
	var parts []string
	if a.ByVal != nil {
		parts = append(parts, fmt.Sprintf("byval(%s)", a.ByVal))
	}
	if a.NoAlias {
		parts = append(parts, "noalias")
	}
	if a.NonNull {
		parts = append(parts, "nonnull")
	}
	if a.ReadOnly {
		parts = append(parts, "readonly")
	}
	if a.Align != 0 {
		parts = append(parts, fmt.Sprintf("align %d", a.Align))
	}
	return strings.Join(parts, " ")
}
