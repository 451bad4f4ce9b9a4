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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/compiler/passes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBackend, EnvNumSlices, EnvPackedArgs, EnvLocalsBySize} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, builtins.BackendLooped, c.Backend)
	assert.Equal(t, passes.WrapperPolicy{PackArgs: true, LocalsBySize: true}, c.Policy())

	opts := c.DeviceOptions()
	assert.Equal(t, LogicalCores(), opts.NumSlices)
	assert.GreaterOrEqual(t, opts.NumSlices, 1)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "mux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: threaded\nnum_slices: 3\npacked_args: false\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvNumSlices+"=5\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	want := &Config{Backend: builtins.BackendThreaded, NumSlices: 5}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, c.Policy().LocalsBySize)
	assert.Equal(t, 5, c.DeviceOptions().NumSlices)

	// The process environment wins over the .env file.
	t.Setenv(EnvNumSlices, "7")
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.NumSlices)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBackend:      "threaded",
		EnvPackedArgs:   "0",
		EnvLocalsBySize: "false",
	}
	c := Default()
	require.NoError(t, c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NotNil(t, c.LocalsBySize)
	assert.False(t, *c.LocalsBySize)
	assert.Equal(t, passes.WrapperPolicy{}, c.Policy())
	assert.NoError(t, c.Validate())

	env[EnvNumSlices] = "many"
	assert.Error(t, c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
}

func TestValidate(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		c    Config
		ok   bool
	}{
		{"looped", Config{Backend: builtins.BackendLooped}, true},
		{"threaded", Config{Backend: builtins.BackendThreaded}, true},
		{"unknown backend", Config{Backend: "gpu"}, false},
		{"negative slices", Config{Backend: builtins.BackendLooped, NumSlices: -1}, false},
		{"threaded locals by size", Config{Backend: builtins.BackendThreaded, LocalsBySize: &yes}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	clearEnv(t)
	no := false
	c := &Config{Backend: builtins.BackendLooped, NumSlices: 2, PackedArgs: true, LocalsBySize: &no, MaxMemory: 1 << 20}
	path := filepath.Join(t.TempDir(), "sub", "mux.yaml")
	require.NoError(t, c.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: looped\nflavor: spicy\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
