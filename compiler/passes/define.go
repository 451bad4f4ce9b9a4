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
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefineBuiltins gives every declared mux builtin the backend's definition.
// Definitions may declare further builtins, so it repeats until every
// builtin in the module has a body.
type DefineBuiltins struct {
	Info builtins.Info
}

func (p *DefineBuiltins) Name() string { return "define-mux-builtins" }

func (p *DefineBuiltins) Run(m *ir.Module) error {
	defined := 0
	for {
		var pending []*ir.Func
		for _, f := range m.Funcs {
			if _, ok := builtins.Identify(f.Name); ok && f.IsDeclaration() {
				pending = append(pending, f)
			}
		}
		if len(pending) == 0 {
			break
		}
		for _, f := range pending {
			id, _ := builtins.Identify(f.Name)
			if err := p.Info.DefineBuiltin(f, id); err != nil {
				return errors.WithMessagef(err, "defining @%s", f.Name)
			}
			f.Linkage = ir.LinkageInternal
			klog.V(2).Infof("define-mux-builtins: defined @%s for %s backend", f.Name, p.Info.Name())
			defined++
		}
	}
	klog.V(1).Infof("define-mux-builtins: defined %d builtins in %q", defined, m.Name)
	return nil
}
