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

package kernels

import (
	"testing"

	"github.com/ajroetker/go-mux/compiler/passes"
	"github.com/ajroetker/go-mux/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAll(t *testing.T) {
	m, err := Build("all", Names()...)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))
	got := make([]string, 0, len(Names()))
	for _, f := range passes.Kernels(m) {
		got = append(got, passes.OrigName(f))
	}
	assert.Equal(t, Names(), got)
}

func TestBuildUnknown(t *testing.T) {
	_, err := Build("bad", AddOne, "fft")
	assert.ErrorContains(t, err, `"fft"`)
}

func TestUsesBarrier(t *testing.T) {
	for _, name := range Names() {
		assert.Equal(t, name == LocalSum, UsesBarrier(name), name)
	}
}

func TestAffineParams(t *testing.T) {
	assert.Equal(t, []byte{3, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, AffineParams(3, -1))

	m, err := Build("affine", Affine)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))
	k := m.Func(Affine)
	require.NotNil(t, k)
	require.Len(t, k.Params, 2)
	assert.Equal(t, uint64(len(AffineParams(0, 0))), m.Layout.SizeOf(k.Params[1].Attrs.ByVal))
}
