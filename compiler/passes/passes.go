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

// Package passes lowers work-item kernels into entry points a HAL can call
// once per work-group: it threads scheduling parameters through the call
// graph, defines the mux builtins, builds the work-item loops and the
// kernel wrappers.
package passes

import (
	"time"

	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass transforms a module in place.
type Pass interface {
	Name() string
	Run(m *ir.Module) error
}

// Manager runs passes in order.
type Manager struct {
	passes     []Pass
	verifyEach bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithVerifyEach verifies the module after every pass.
func WithVerifyEach(verify bool) ManagerOption {
	return func(pm *Manager) {
		pm.verifyEach = verify
	}
}

// NewManager returns a manager running passes in order.
func NewManager(passes []Pass, opts ...ManagerOption) *Manager {
	pm := &Manager{passes: passes}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Add appends passes.
func (pm *Manager) Add(passes ...Pass) {
	pm.passes = append(pm.passes, passes...)
}

// Passes returns the names of the scheduled passes.
func (pm *Manager) Passes() []string {
	names := make([]string, len(pm.passes))
	for i, p := range pm.passes {
		names[i] = p.Name()
	}
	return names
}

// Run executes every pass, stopping at the first failure.
func (pm *Manager) Run(m *ir.Module) error {
	for _, p := range pm.passes {
		start := time.Now()
		if err := p.Run(m); err != nil {
			return errors.WithMessagef(err, "pass %s on module %q", p.Name(), m.Name)
		}
		klog.V(1).Infof("pass %s on module %q took %s", p.Name(), m.Name, time.Since(start))
		if pm.verifyEach {
			if err := ir.Verify(m); err != nil {
				return errors.WithMessagef(err, "module %q invalid after pass %s", m.Name, p.Name())
			}
		}
	}
	return nil
}

// GlobalDCE removes internal functions nothing reachable calls.
type GlobalDCE struct{}

func (GlobalDCE) Name() string { return "global-dce" }

func (GlobalDCE) Run(m *ir.Module) error {
	removed := ir.GlobalDCE(m)
	if len(removed) > 0 {
		klog.V(2).Infof("global-dce removed %v", removed)
	}
	return nil
}
