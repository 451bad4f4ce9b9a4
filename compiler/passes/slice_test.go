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

package passes_test

import (
	"context"
	"testing"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/compiler/passes"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/internal/kernels"
	"github.com/ajroetker/go-mux/ir"
	"github.com/ajroetker/go-mux/ir/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGroupIDs adds a kernel storing its three group ids to out[0..2].
func buildGroupIDs(t *testing.T, m *ir.Module) {
	t.Helper()
	gid, err := m.GetOrInsertFunc(builtins.GetGroupID.Name(), builtins.GetGroupID.Signature())
	require.NoError(t, err)
	f := m.NewFunc("group_ids", ir.Void, ir.NewParam("out", ir.NewPointer(ir.AddrSpaceGlobal)))
	passes.SetKernel(f)
	b := ir.NewBuilder(f.NewBlock("entry"))
	for d := range int64(abi.MaxDims) {
		id := b.Call(gid, ir.ConstI32(d))
		b.Store(id, b.GEP(ir.I64, f.Params[0], "", ir.ConstI64(d)))
	}
	b.RetVoid()
}

func TestSliceWrapperGroupID(t *testing.T) {
	numGroups := [3]uint64{2, 3, 4}
	for _, backend := range []string{builtins.BackendThreaded, builtins.BackendLooped} {
		t.Run(backend, func(t *testing.T) {
			info, err := builtins.New(backend)
			require.NoError(t, err)
			m := ir.NewModule("slice")
			buildGroupIDs(t, m)
			compiled, err := passes.NewPipeline(info, passes.Options{VerifyEach: true}).Run(m)
			require.NoError(t, err)
			require.Len(t, compiled, 1)
			ck := compiled[0]
			assert.Equal(t, []string{"instance", "slice"}, []string{ck.Entry.Params[0].Name, ck.Entry.Params[1].Name})
			_, ok := ck.Entry.Attrs.Get(passes.SliceWrapperAttr)
			assert.True(t, ok)

			sl := builtins.ExecStateLayout(m)
			mach := interp.New(m)
			for z := range numGroups[2] {
				for y := range numGroups[1] {
					for x := range numGroups[0] {
						// The state handed in carries a stale group id the
						// entry must not use.
						st := abi.NewExecState(3, numGroups, [3]uint64{1, 1, 1}, [3]uint64{})
						st.GroupID = [3]uint64{9, 9, 9}
						state := interp.NewObject("state", sl.Size)
						require.NoError(t, state.SetBytes(sl.Encode(st)))
						out := interp.NewObject("out", 24)

						slice := abi.LinearSlice(y, z, numGroups[1])
						_, err := mach.Call(context.Background(), ck.Entry, interp.Int(x), interp.Int(slice),
							interp.Ptr(interp.Pointer{Obj: out}), interp.Ptr(interp.Pointer{Obj: state}))
						require.NoError(t, err)

						var got [3]uint64
						for d := range got {
							got[d], err = out.ReadUint(uint64(8*d), 8)
							require.NoError(t, err)
						}
						assert.Equal(t, [3]uint64{x, y, z}, got)
						// The caller's state is left untouched.
						assert.Equal(t, st, sl.Decode(state.Bytes()))
					}
				}
			}
		})
	}
}

func TestPipelineArgMetadata(t *testing.T) {
	_, threaded := compile(t, builtins.BackendThreaded, passes.WrapperPolicy{PackArgs: true}, kernels.LocalSum)
	md := threaded[kernels.LocalSum].Metadata
	assert.Equal(t, []hal.ArgMetadata{
		{Kind: hal.ArgBuffer, Packed: true, Offset: 0},
		{Kind: hal.ArgBuffer, Packed: true, Offset: 8},
		{Kind: hal.ArgLocal, Packed: true, Offset: 16},
	}, md.Args)
	assert.Equal(t, uint64(24), md.PackedArgsSize)
	assert.Equal(t, 1, md.StateParam)

	_, looped := compile(t, builtins.BackendLooped, passes.WrapperPolicy{LocalsBySize: true}, kernels.Scale)
	md = looped[kernels.Scale].Metadata
	assert.Equal(t, []hal.ArgMetadata{
		{Kind: hal.ArgBuffer, Param: 0},
		{Kind: hal.ArgScalar, Size: 4, Param: 1},
	}, md.Args)
	assert.Zero(t, md.PackedArgsSize)
	assert.Equal(t, 2, md.StateParam)
}
