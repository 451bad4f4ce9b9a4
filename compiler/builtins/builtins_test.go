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

package builtins

import (
	"context"
	"errors"
	"testing"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/ir"
	"github.com/ajroetker/go-mux/ir/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defineAll defines every declared builtin until none is left.
func defineAll(t *testing.T, info Info, m *ir.Module) error {
	t.Helper()
	for {
		progress := false
		for _, f := range append([]*ir.Func(nil), m.Funcs...) {
			id, ok := Identify(f.Name)
			if !ok || !f.IsDeclaration() {
				continue
			}
			if err := info.DefineBuiltin(f, id); err != nil {
				return err
			}
			progress = true
		}
		if !progress {
			return nil
		}
	}
}

// newState writes st into a fresh execution-state object for m.
func newState(t *testing.T, m *ir.Module, st abi.ExecState) *interp.Object {
	t.Helper()
	sl := ExecStateLayout(m)
	obj := interp.NewObject("state", sl.Size)
	require.NoError(t, obj.SetBytes(sl.Encode(st)))
	return obj
}

func TestIdentify(t *testing.T) {
	for _, id := range IDs() {
		got, ok := Identify(id.Name())
		if !ok || got != id {
			t.Errorf("Identify(%q) = %v, %v, want %v", id.Name(), got, ok, id)
		}
	}
	for _, name := range []string{"get_local_id", "__mux_get_nothing", "foo"} {
		if _, ok := Identify(name); ok {
			t.Errorf("Identify(%q) recognized a non-builtin", name)
		}
	}
}

func TestExecStateType(t *testing.T) {
	m := ir.NewModule("test")
	st := ExecStateType(m)
	assert.Same(t, st, ExecStateType(m))
	assert.Len(t, st.Fields, int(abi.NumExecStateFields))
	assert.Same(t, WorkGroupInfoType(m), st.Fields[abi.ExecStateWorkGroupInfo])

	sl := ExecStateLayout(m)
	// num_groups, global_offset, local_size: 3*24 bytes, then work_dim.
	assert.Equal(t, uint64(72), sl.WorkGroup[abi.WorkGroupInfoWorkDim])
	assert.Equal(t, uint64(80), sl.WorkGroup[abi.WorkGroupInfoGroupID])
	assert.Equal(t, uint64(104), sl.Field[abi.ExecStateNumGroupsPerCall])
	assert.Equal(t, sl.Size, m.Layout.SizeOf(st))

	want := abi.NewExecState(2, [3]uint64{4, 5, 1}, [3]uint64{8, 2, 1}, [3]uint64{16, 0, 0})
	want.GroupID = [3]uint64{3, 4, 0}
	want.ThreadID = 11
	buf := sl.Encode(want)
	assert.Len(t, buf, int(sl.Size))
	assert.Equal(t, want, sl.Decode(buf))
}

// Every thread id of every local size decomposes into a local id that
// recombines into the same thread id.
func TestThreadedLocalIDRoundTrip(t *testing.T) {
	info := NewThreaded()
	m := ir.NewModule("test")
	localID, err := info.GetOrDeclareBuiltin(m, GetLocalID)
	require.NoError(t, err)
	require.NoError(t, defineAll(t, info, m))
	require.NoError(t, ir.Verify(m))

	mach := interp.New(m)
	ctx := context.Background()
	for _, ls := range [][3]uint64{{1, 1, 1}, {4, 1, 1}, {2, 3, 4}, {5, 1, 3}} {
		total := ls[0] * ls[1] * ls[2]
		for tid := uint64(0); tid < total; tid++ {
			st := abi.ExecState{WorkGroupInfo: abi.WorkGroupInfo{LocalSize: ls}, ThreadID: tid}
			state := interp.Ptr(interp.Pointer{Obj: newState(t, m, st)})
			var id [3]uint64
			for d := range 3 {
				v, err := mach.Call(ctx, localID, interp.Int(uint64(d)), state)
				require.NoError(t, err)
				id[d] = v.Bits
			}
			if back := id[0] + id[1]*ls[0] + id[2]*ls[0]*ls[1]; back != tid {
				t.Fatalf("local size %v: thread %d -> %v -> %d", ls, tid, id, back)
			}
			assert.Equal(t, abi.DecomposeLocalID(tid, ls), id)

			for _, rank := range []uint64{3, 0xffffffff} {
				v, err := mach.Call(ctx, localID, interp.Int(rank), state)
				require.NoError(t, err)
				assert.Zero(t, v.Bits, "rank %d", rank)
			}
		}
	}
}

func TestGenericBuiltins(t *testing.T) {
	for _, info := range []Info{NewThreaded(), NewLooped()} {
		t.Run(info.Name(), func(t *testing.T) {
			m := ir.NewModule("test")
			ids := []ID{GetGroupID, GetNumGroups, GetGlobalOffset, GetLocalSize, GetGlobalSize, GetWorkDim, GetNumSubGroups, GetMaxSubGroupSize}
			fns := make(map[ID]*ir.Func)
			for _, id := range ids {
				f, err := info.GetOrDeclareBuiltin(m, id)
				require.NoError(t, err)
				fns[id] = f
			}
			require.NoError(t, defineAll(t, info, m))
			require.NoError(t, ir.Verify(m))

			st := abi.ExecState{WorkGroupInfo: abi.WorkGroupInfo{
				NumGroups:    [3]uint64{4, 2, 1},
				GlobalOffset: [3]uint64{10, 20, 30},
				LocalSize:    [3]uint64{8, 2, 1},
				WorkDim:      2,
				GroupID:      [3]uint64{3, 1, 0},
			}}
			state := interp.Ptr(interp.Pointer{Obj: newState(t, m, st)})
			args := func(id ID, rank ...uint64) []interp.Value {
				var out []interp.Value
				for _, r := range rank {
					out = append(out, interp.Int(r))
				}
				if info.RequiresSchedParams(id) {
					for i := range info.SchedParams() {
						if i == info.ExecStateSlot() {
							out = append(out, state)
						} else {
							out = append(out, interp.Ptr(interp.Pointer{Obj: interp.NewObject("wi", 24)}))
						}
					}
				}
				return out
			}
			mach := interp.New(m)
			call := func(id ID, rank ...uint64) uint64 {
				v, err := mach.Call(context.Background(), fns[id], args(id, rank...)...)
				require.NoError(t, err)
				return v.Bits
			}

			for d := range uint64(3) {
				assert.Equal(t, st.GroupID[d], call(GetGroupID, d))
				assert.Equal(t, st.NumGroups[d], call(GetNumGroups, d))
				assert.Equal(t, st.GlobalOffset[d], call(GetGlobalOffset, d))
				assert.Equal(t, st.LocalSize[d], call(GetLocalSize, d))
				assert.Equal(t, st.NumGroups[d]*st.LocalSize[d], call(GetGlobalSize, d))
			}
			// Out-of-range ranks: ids and offsets are 0, sizes are 1.
			assert.Equal(t, uint64(0), call(GetGroupID, 3))
			assert.Equal(t, uint64(0), call(GetGlobalOffset, 7))
			assert.Equal(t, uint64(1), call(GetNumGroups, 3))
			assert.Equal(t, uint64(1), call(GetLocalSize, 4))
			assert.Equal(t, uint64(1), call(GetGlobalSize, 3))

			assert.Equal(t, uint64(2), call(GetWorkDim))
			assert.Equal(t, uint64(16), call(GetNumSubGroups))
			assert.Equal(t, uint64(1), call(GetMaxSubGroupSize))
		})
	}
}

func TestThreadedGlobalID(t *testing.T) {
	info := NewThreaded()
	m := ir.NewModule("test")
	globalID, err := info.GetOrDeclareBuiltin(m, GetGlobalID)
	require.NoError(t, err)
	linear, err := info.GetOrDeclareBuiltin(m, GetLocalLinearID)
	require.NoError(t, err)
	subGroup, err := info.GetOrDeclareBuiltin(m, GetSubGroupID)
	require.NoError(t, err)
	require.NoError(t, defineAll(t, info, m))
	require.NoError(t, ir.Verify(m))

	st := abi.ExecState{WorkGroupInfo: abi.WorkGroupInfo{
		LocalSize:    [3]uint64{4, 2, 1},
		GlobalOffset: [3]uint64{100, 0, 0},
		GroupID:      [3]uint64{2, 1, 0},
	}, ThreadID: 6}
	state := interp.Ptr(interp.Pointer{Obj: newState(t, m, st)})
	mach := interp.New(m)
	ctx := context.Background()

	// Thread 6 of a 4x2 group is local id (2, 1).
	v, err := mach.Call(ctx, globalID, interp.Int(0), state)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*4+2+100), v.Bits)
	v, err = mach.Call(ctx, globalID, interp.Int(1), state)
	require.NoError(t, err)
	assert.Equal(t, uint64(1*2+1), v.Bits)

	v, err = mach.Call(ctx, linear, state)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v.Bits)
	v, err = mach.Call(ctx, subGroup, state)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v.Bits)
}

func TestBarrierAttributes(t *testing.T) {
	info := NewThreaded()
	m := ir.NewModule("test")
	barrier, err := info.GetOrDeclareBuiltin(m, WorkGroupBarrier)
	require.NoError(t, err)
	barrier.Attrs.Add(ir.AttrAlwaysInline)
	dma, err := info.GetOrDeclareBuiltin(m, DMAWait)
	require.NoError(t, err)
	require.NoError(t, defineAll(t, info, m))
	require.NoError(t, ir.Verify(m))

	for _, f := range []*ir.Func{barrier, dma} {
		assert.False(t, f.Attrs.Has(ir.AttrAlwaysInline), "@%s", f.Name)
		assert.True(t, f.Attrs.Has(ir.AttrNoInline), "@%s", f.Name)
		assert.True(t, f.Attrs.Has(ir.AttrNoDuplicate), "@%s", f.Name)
		assert.True(t, f.Attrs.Has(ir.AttrConvergent), "@%s", f.Name)
	}

	// The barrier orders memory first, then traps.
	calls := barrier.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, MemBarrier.Name(), calls[0].Callee.Name)
	assert.Equal(t, BarrierTrapName, calls[1].Callee.Name)

	// dma_wait is a work-group barrier with acquire-release semantics on
	// work-group and cross-work-group memory.
	calls = dma.Calls()
	require.Len(t, calls, 1)
	assert.Same(t, barrier, calls[0].Callee)
	sem := calls[0].Operands[2].(*ir.ConstInt)
	assert.Equal(t, uint64(SemanticsAcquireRelease|SemanticsWorkGroupMemory|SemanticsCrossWorkGroupMemory), sem.V)
	assert.Equal(t, uint64(ScopeWorkGroup), calls[0].Operands[1].(*ir.ConstInt).V)

	// Executing the barrier reaches the trap with the barrier id.
	var trapped []uint64
	mach := interp.New(m, interp.WithExternal(BarrierTrapName, func(_ context.Context, args []interp.Value) (interp.Value, error) {
		trapped = append(trapped, args[0].Bits)
		return interp.Value{}, nil
	}))
	_, err = mach.Call(context.Background(), dma, interp.Int(0), interp.Value{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, trapped)
}

func TestLooped(t *testing.T) {
	info := NewLooped()
	m := ir.NewModule("test")
	localID, err := info.GetOrDeclareBuiltin(m, GetLocalID)
	require.NoError(t, err)
	require.Len(t, localID.Params, 3)
	assert.Equal(t, "wi_info", localID.Params[1].Name)
	assert.Equal(t, "exec_state", localID.Params[2].Name)
	require.NoError(t, defineAll(t, info, m))

	wi := interp.NewObject("wi", m.Layout.SizeOf(WorkItemInfoType(m)))
	for d, v := range []uint64{5, 6, 7} {
		require.NoError(t, wi.WriteUint(uint64(8*d), 8, v))
	}
	mach := interp.New(m)
	for d, want := range []uint64{5, 6, 7, 0} {
		v, err := mach.Call(context.Background(), localID, interp.Int(uint64(d)), interp.Ptr(interp.Pointer{Obj: wi}), interp.Value{})
		require.NoError(t, err)
		assert.Equal(t, want, v.Bits, "rank %d", d)
	}

	t.Run("barrier unsupported", func(t *testing.T) {
		m := ir.NewModule("test")
		_, err := info.GetOrDeclareBuiltin(m, DMAWait)
		require.NoError(t, err)
		err = defineAll(t, info, m)
		assert.True(t, errors.Is(err, hal.ErrUnsupported), "error = %v", err)
	})
}

func TestNew(t *testing.T) {
	for _, name := range []string{BackendThreaded, BackendLooped} {
		info, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, info.Name())
	}
	_, err := New("gpu")
	assert.Error(t, err)
}
