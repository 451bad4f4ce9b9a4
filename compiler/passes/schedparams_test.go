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

package passes

import (
	"testing"

	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCallChain returns a module where kernel A calls B, which calls the
// builtin get_local_id, and kernel E calls nothing.
func buildCallChain(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("chain")
	c, err := m.GetOrInsertFunc(builtins.GetLocalID.Name(), builtins.GetLocalID.Signature())
	require.NoError(t, err)

	b := m.NewFunc("B", ir.I64, ir.NewParam("dim", ir.I32))
	bb := ir.NewBuilder(b.NewBlock("entry"))
	bb.Ret(bb.Call(c, b.Params[0]))

	a := m.NewFunc("A", ir.Void, ir.NewParam("out", ir.Ptr))
	SetKernel(a)
	ab := ir.NewBuilder(a.NewBlock("entry"))
	ab.Store(ab.Call(b, ir.ConstI32(0)), a.Params[0])
	ab.RetVoid()

	e := m.NewFunc("E", ir.Void)
	SetKernel(e)
	ir.NewBuilder(e.NewBlock("entry")).RetVoid()
	return m
}

// assertForwards checks that call passes the trailing scheduling
// parameters of its caller unchanged.
func assertForwards(t *testing.T, caller *ir.Func, call *ir.Inst, numSlots int) {
	t.Helper()
	require.GreaterOrEqual(t, len(call.Operands), numSlots)
	tail := call.Operands[len(call.Operands)-numSlots:]
	for i, want := range builtins.SchedArgs(caller, numSlots) {
		assert.Same(t, want, tail[i], "slot %d of call from @%s to @%s", i, caller.Name, call.Callee.Name)
	}
}

func TestSchedParamsThreading(t *testing.T) {
	for _, backend := range []string{builtins.BackendThreaded, builtins.BackendLooped} {
		t.Run(backend, func(t *testing.T) {
			info, err := builtins.New(backend)
			require.NoError(t, err)
			slots := info.SchedParams()
			n := len(slots)

			m := buildCallChain(t)
			require.NoError(t, (&AddSchedulingParameters{Info: info}).Run(m))
			require.NoError(t, ir.Verify(m))

			a := KernelByOrigName(m, "A")
			require.NotNil(t, a)
			assert.Equal(t, "A"+schedCloneSuffix, a.Name)
			b := m.Func("B" + schedCloneSuffix)
			require.NotNil(t, b)
			c := m.Func(builtins.GetLocalID.Name())
			require.NotNil(t, c)
			require.NotNil(t, m.Func(builtins.GetLocalID.Name()+schedOldSuffix))

			assert.Len(t, a.Params, 1+n)
			assert.Len(t, b.Params, 1+n)
			assert.Len(t, c.Params, 1+n)
			for i, s := range slots {
				p := builtins.SchedParamValue(a, n, i)
				assert.Equal(t, s.Name, p.Name)
				assert.True(t, p.Typ.Equal(s.Type))
			}

			callsA := a.Calls()
			require.Len(t, callsA, 1)
			assert.Same(t, b, callsA[0].Callee)
			assertForwards(t, a, callsA[0], n)
			callsB := b.Calls()
			require.Len(t, callsB, 1)
			assert.Same(t, c, callsB[0].Callee)
			assertForwards(t, b, callsB[0], n)

			// Kernels get the slots even without reading them.
			e := KernelByOrigName(m, "E")
			require.NotNil(t, e)
			assert.Len(t, e.Params, n)

			old := m.Func("A")
			assert.False(t, IsKernel(old))
			assert.Equal(t, ir.LinkageInternal, old.Linkage)
			assert.Equal(t, ir.LinkageInternal, m.Func("B").Linkage)

			require.NoError(t, GlobalDCE{}.Run(m))
			for _, gone := range []string{"A", "B", "E", builtins.GetLocalID.Name() + schedOldSuffix} {
				assert.Nil(t, m.Func(gone), "@%s should be dead", gone)
			}
		})
	}
}

func TestSchedParamsRecursion(t *testing.T) {
	info := builtins.NewThreaded()
	m := ir.NewModule("rec")
	gid, err := m.GetOrInsertFunc(builtins.GetGroupID.Name(), builtins.GetGroupID.Signature())
	require.NoError(t, err)

	// D calls itself and get_group_id.
	d := m.NewFunc("D", ir.I64, ir.NewParam("n", ir.I64))
	db := ir.NewBuilder(d.NewBlock("entry"))
	rec := db.Call(d, d.Params[0])
	db.Ret(db.Add(rec, db.Call(gid, ir.ConstI32(0)), "sum"))

	k := m.NewFunc("K", ir.Void)
	SetKernel(k)
	kb := ir.NewBuilder(k.NewBlock("entry"))
	kb.Call(d, ir.ConstI64(3))
	kb.RetVoid()

	require.NoError(t, (&AddSchedulingParameters{Info: info}).Run(m))
	require.NoError(t, ir.Verify(m))

	dNew := m.Func("D" + schedCloneSuffix)
	require.NotNil(t, dNew)
	calls := dNew.Calls()
	require.Len(t, calls, 2)
	assert.Same(t, dNew, calls[0].Callee)
	assertForwards(t, dNew, calls[0], 1)
	assert.Equal(t, builtins.GetGroupID.Name(), calls[1].Callee.Name)
	assertForwards(t, dNew, calls[1], 1)
}

func TestSchedParamsIdempotent(t *testing.T) {
	info := builtins.NewLooped()
	m := buildCallChain(t)
	pass := &AddSchedulingParameters{Info: info}
	require.NoError(t, pass.Run(m))
	before := m.String()
	require.NoError(t, pass.Run(m))
	assert.Equal(t, before, m.String())
}

// incompleteInfo reports a slot without a type.
type incompleteInfo struct {
	builtins.Info
}

func (incompleteInfo) SchedParams() []builtins.SchedParamInfo {
	return []builtins.SchedParamInfo{{Name: "exec_state"}}
}

func TestSchedParamsIncompleteSlot(t *testing.T) {
	m := buildCallChain(t)
	pass := &AddSchedulingParameters{Info: incompleteInfo{builtins.NewThreaded()}}
	assert.Panics(t, func() { _ = pass.Run(m) })
}
