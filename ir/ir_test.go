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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataLayout(t *testing.T) {
	dl := DefaultDataLayout()
	tests := []struct {
		name  string
		typ   Type
		size  uint64
		align uint64
	}{
		{"i1", I1, 1, 1},
		{"i8", I8, 1, 1},
		{"i32", I32, 4, 4},
		{"i64", I64, 8, 8},
		{"ptr", Ptr, 8, 8},
		{"array", NewArray(3, I64), 24, 8},
		{"struct", NewStruct(I8, I64, I32), 24, 8},
		{"packed", &StructType{Fields: []Type{I8, I64, I32}, Packed: true}, 13, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dl.SizeOf(tt.typ); got != tt.size {
				t.Errorf("SizeOf(%s) = %d, want %d", tt.typ, got, tt.size)
			}
			if got := dl.AlignOf(tt.typ); got != tt.align {
				t.Errorf("AlignOf(%s) = %d, want %d", tt.typ, got, tt.align)
			}
		})
	}

	sl := dl.StructLayout(NewStruct(I8, I64, I32))
	assert.Equal(t, []uint64{0, 8, 16}, sl.Offsets)
}

func TestPowerOf2Ceil(t *testing.T) {
	for _, tt := range []struct{ in, want uint64 }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {16, 16}, {17, 32}, {200, 256},
	} {
		if got := PowerOf2Ceil(tt.in); got != tt.want {
			t.Errorf("PowerOf2Ceil(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetOrCreateStruct(t *testing.T) {
	m := NewModule("test")
	calls := 0
	build := func() []Type {
		calls++
		return []Type{I32, I64}
	}
	a := m.GetOrCreateStruct("S", false, build)
	b := m.GetOrCreateStruct("S", false, build)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []*StructType{a}, m.Structs())
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewStruct(I32, I64)))
}

func TestUniqueNames(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("foo", Void)
	g := m.NewFunc("foo", Void)
	assert.Equal(t, "foo", f.Name)
	assert.Equal(t, "foo.1", g.Name)

	assert.Equal(t, "foo.1.1", m.Rename(f, "foo.1"))
	assert.Equal(t, "foo", m.Rename(g, "foo"))
}

func TestGetOrInsertFunc(t *testing.T) {
	m := NewModule("test")
	sig := NewFuncType(I64, I32)
	f, err := m.GetOrInsertFunc("decl", sig)
	require.NoError(t, err)
	assert.True(t, f.IsDeclaration())
	assert.Len(t, f.Params, 1)

	again, err := m.GetOrInsertFunc("decl", sig)
	require.NoError(t, err)
	assert.Same(t, f, again)

	_, err = m.GetOrInsertFunc("decl", NewFuncType(I32, I32))
	assert.Error(t, err)
}

// buildAddOne builds: i64 @add_one(i64 %x) { ret x + 1 }.
func buildAddOne(m *Module) *Func {
	f := m.NewFunc("add_one", I64, NewParam("x", I64))
	b := NewBuilder(f.NewBlock("entry"))
	sum := b.Add(f.Params[0], ConstI64(1), "sum")
	b.Ret(sum)
	return f
}

func TestVerify(t *testing.T) {
	m := NewModule("test")
	addOne := buildAddOne(m)
	require.NoError(t, Verify(m))

	caller := m.NewFunc("caller", I64)
	b := NewBuilder(caller.NewBlock("entry"))
	call := b.Call(addOne, ConstI64(41))
	b.Ret(call)
	require.NoError(t, Verify(m))

	t.Run("missing terminator", func(t *testing.T) {
		m := NewModule("bad")
		f := m.NewFunc("f", Void)
		NewBuilder(f.NewBlock("entry")).Add(ConstI32(1), ConstI32(2), "")
		assert.ErrorContains(t, Verify(m), "no terminator")
	})

	t.Run("wrong arg type", func(t *testing.T) {
		m := NewModule("bad")
		callee := buildAddOne(m)
		f := m.NewFunc("f", Void)
		b := NewBuilder(f.NewBlock("entry"))
		b.Call(callee, ConstI32(1))
		b.RetVoid()
		assert.ErrorContains(t, Verify(m), "arg 0")
	})

	t.Run("call without debug location", func(t *testing.T) {
		m := NewModule("bad")
		callee := buildAddOne(m)
		f := m.NewFunc("f", Void)
		f.Subprogram = &Subprogram{Name: "f", File: "f.cl", Line: 3}
		b := NewBuilder(f.NewBlock("entry"))
		b.Call(callee, ConstI64(1))
		b.RetVoid()
		assert.ErrorContains(t, Verify(m), "debug location")

		// A synthetic line-0 location satisfies the rule.
		f.Blocks[0].Insts[0].Loc = SyntheticLoc(f.Subprogram)
		assert.NoError(t, Verify(m))
	})

	t.Run("wrong return type", func(t *testing.T) {
		m := NewModule("bad")
		f := m.NewFunc("f", I64)
		NewBuilder(f.NewBlock("entry")).Ret(ConstI32(0))
		assert.ErrorContains(t, Verify(m), "returns i32")
	})
}

func TestCloneBody(t *testing.T) {
	m := NewModule("test")
	src := buildAddOne(m)
	src.Subprogram = &Subprogram{Name: "add_one"}
	src.Blocks[0].Insts[0].Loc = &DebugLoc{Line: 7, Scope: src.Subprogram}

	dst := m.NewFunc("add_one.clone", I64, CloneParam(src.Params[0]), NewParam("extra", Ptr))
	dst.Subprogram = &Subprogram{Name: "add_one.clone"}
	vmap := ValueMap{src.Params[0]: dst.Params[0]}
	CloneBody(dst, src, vmap)

	require.NoError(t, VerifyFunc(dst))
	sum := dst.Blocks[0].Insts[0]
	assert.Same(t, dst.Params[0], sum.Operands[0])
	assert.Same(t, dst.Subprogram, sum.Loc.Scope)
	assert.Equal(t, 7, sum.Loc.Line)
	assert.Same(t, sum, dst.Blocks[0].Insts[1].Operands[0])

	// The source is untouched.
	assert.Same(t, src.Params[0], src.Blocks[0].Insts[0].Operands[0])
}

func TestReplaceCall(t *testing.T) {
	m := NewModule("test")
	addOne := buildAddOne(m)
	addTwo := m.NewFunc("add_two", I64, NewParam("x", I64), NewParam("y", I64))
	b := NewBuilder(addTwo.NewBlock("entry"))
	b.Ret(b.Add(addTwo.Params[0], addTwo.Params[1], ""))

	caller := m.NewFunc("caller", I64)
	b = NewBuilder(caller.NewBlock("entry"))
	call := b.Call(addOne, ConstI64(1))
	b.Ret(call)

	repl := ReplaceCall(call, addTwo, []Value{ConstI64(1), ConstI64(2)})
	require.NoError(t, Verify(m))
	assert.Same(t, repl, caller.Blocks[0].Insts[0])
	assert.Same(t, repl, caller.Blocks[0].Insts[1].Operands[0])
	assert.Nil(t, call.Block)
	assert.Len(t, m.CallSites(addOne), 0)
	assert.Len(t, m.CallSites(addTwo), 1)
}

func TestGlobalDCE(t *testing.T) {
	m := NewModule("test")
	used := buildAddOne(m)
	used.Linkage = LinkageInternal

	dead := m.NewFunc("dead", Void)
	dead.Linkage = LinkageInternal
	b := NewBuilder(dead.NewBlock("entry"))
	b.Call(dead)
	b.RetVoid()

	_, err := m.GetOrInsertFunc("unused_decl", NewFuncType(Void))
	require.NoError(t, err)

	entry := m.NewFunc("entry", I64)
	b = NewBuilder(entry.NewBlock("entry"))
	b.Ret(b.Call(used, ConstI64(1)))

	removed := GlobalDCE(m)
	assert.ElementsMatch(t, []string{"dead", "unused_decl"}, removed)
	assert.NotNil(t, m.Func("add_one"))
	assert.NotNil(t, m.Func("entry"))
	assert.Nil(t, m.Func("dead"))
}

func TestPrinter(t *testing.T) {
	m := NewModule("test")
	st := m.GetOrCreateStruct("Pair", false, func() []Type { return []Type{I32, I64} })
	f := m.NewFunc("get_second", I64, &Param{Name: "p", Typ: Ptr, Attrs: ParamAttrs{NoAlias: true, NonNull: true}})
	f.Attrs.Add(AttrNoInline)
	f.Attrs.Set("mux-kernel", "entry-point")
	b := NewBuilder(f.NewBlock("entry"))
	gep := b.StructGEP(st, f.Params[0], 1, "")
	b.Ret(b.Load(I64, gep, "v"))

	got := m.String()
	for _, want := range []string{
		"%Pair = type { i32, i64 }",
		"define i64 @get_second(ptr noalias nonnull %p) noinline \"mux-kernel\"=\"entry-point\" {",
		"%0 = getelementptr %Pair, ptr %p, i32 0, i32 1",
		"%v = load i64, ptr %0",
		"ret i64 %v",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("printed module missing %q:\n%s", want, got)
		}
	}
}

func TestFuncAttrs(t *testing.T) {
	var fa FuncAttrs
	fa.Add(AttrConvergent)
	fa.Add(AttrNoInline)
	fa.Add(AttrConvergent)
	assert.Equal(t, []Attr{AttrNoInline, AttrConvergent}, fa.Enums())
	fa.Remove(AttrNoInline)
	assert.False(t, fa.Has(AttrNoInline))

	fa.Set("k", "v")
	clone := fa.Clone()
	fa.Delete("k")
	_, ok := clone.Get("k")
	assert.True(t, ok)
	_, ok = fa.Get("k")
	assert.False(t, ok)
}
