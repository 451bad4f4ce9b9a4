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

// Package config holds the settings that pick a backend and its
// argument-passing policy, read from a YAML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/compiler/passes"
	hostcpu "github.com/ajroetker/go-mux/hal/cpu"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Environment variables overriding file settings.
const (
	EnvBackend      = "MUX_BACKEND"
	EnvNumSlices    = "MUX_NUM_SLICES"
	EnvPackedArgs   = "MUX_PACKED_ARGS"
	EnvLocalsBySize = "MUX_LOCALS_BY_SIZE"
)

// Config describes a CPU device.
type Config struct {
	Backend string `yaml:"backend"`

	// NumSlices is the number of execution contexts per dispatch. Zero
	// uses the number of logical cores.
	NumSlices int `yaml:"num_slices"`
	Workers   int `yaml:"workers,omitempty"`

	PackedArgs bool `yaml:"packed_args"`
	NoPadding  bool `yaml:"no_padding,omitempty"`

	// LocalsBySize passes local memory as its size. Unset means the
	// backend default: by size for looped, by pointer for threaded.
	LocalsBySize *bool `yaml:"locals_by_size,omitempty"`

	MaxMemory  uint64 `yaml:"max_memory,omitempty"`
	VerifyEach bool   `yaml:"verify_each,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:    builtins.BackendLooped,
		PackedArgs: true,
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// .env file next to it (if any) and the process environment. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
		if err := LoadEnvFile(filepath.Join(filepath.Dir(path), ".env")); err != nil {
			return nil, err
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// LoadEnvFile exports the variables of a .env file that are not already
// set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "loading %s", path)
}

// ApplyEnv overrides settings from the variables lookup reports.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok {
		c.Backend = v
	}
	if v, ok := lookup(EnvNumSlices); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s=%q", EnvNumSlices, v)
		}
		c.NumSlices = n
	}
	if v, ok := lookup(EnvPackedArgs); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s=%q", EnvPackedArgs, v)
		}
		c.PackedArgs = b
	}
	if v, ok := lookup(EnvLocalsBySize); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s=%q", EnvLocalsBySize, v)
		}
		c.LocalsBySize = &b
	}
	return nil
}

// Validate checks the settings are consistent.
func (c *Config) Validate() error {
	if _, err := builtins.New(c.Backend); err != nil {
		return err
	}
	if c.NumSlices < 0 {
		return errors.Errorf("num_slices %d is negative", c.NumSlices)
	}
	if c.Backend == builtins.BackendThreaded && c.localsBySize() {
		return errors.New("the threaded backend shares local memory between work-items and cannot pass it by size")
	}
	return nil
}

func (c *Config) localsBySize() bool {
	if c.LocalsBySize != nil {
		return *c.LocalsBySize
	}
	return c.Backend == builtins.BackendLooped
}

// Policy returns the argument-passing convention to compile with.
func (c *Config) Policy() passes.WrapperPolicy {
	return passes.WrapperPolicy{
		PackArgs:     c.PackedArgs,
		NoPadding:    c.NoPadding,
		LocalsBySize: c.localsBySize(),
	}
}

// DeviceOptions converts c into options for the CPU device.
func (c *Config) DeviceOptions() hostcpu.Options {
	slices := c.NumSlices
	if slices == 0 {
		slices = LogicalCores()
	}
	return hostcpu.Options{
		Backend:    c.Backend,
		NumSlices:  slices,
		Workers:    c.Workers,
		Policy:     c.Policy(),
		MaxMemory:  c.MaxMemory,
		VerifyEach: c.VerifyEach,
	}
}

// LogicalCores returns the number of logical CPUs, or 1 if it cannot be
// determined.
func LogicalCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		klog.Warningf("config: cannot count logical cores (%v), using 1", err)
		return 1
	}
	return n
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}
