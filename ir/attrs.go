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
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Attr is an enumerated function attribute.
type Attr int

const (
	AttrAlwaysInline Attr = iota
	AttrNoInline
	AttrNoDuplicate
	AttrConvergent
	AttrNoUnwind
	AttrNoReturn
	AttrReadNone
)

// String returns the attribute keyword.
func (a Attr) String() string {
	switch a {
	case AttrAlwaysInline:
		return "alwaysinline"
	case AttrNoInline:
		return "noinline"
	case AttrNoDuplicate:
		return "noduplicate"
	case AttrConvergent:
		return "convergent"
	case AttrNoUnwind:
		return "nounwind"
	case AttrNoReturn:
		return "noreturn"
	case AttrReadNone:
		return "readnone"
	default:
		return fmt.Sprintf("Attr(%d)", int(a))
	}
}

// FuncAttrs is a set of enum attributes plus string key/value attributes.
// The zero value is an empty set.
type FuncAttrs struct {
	enums []Attr
	strs  map[string]string
}

// Has reports whether a is present.
func (fa *FuncAttrs) Has(a Attr) bool {
	return slices.Contains(fa.enums, a)
}

// Add inserts a.
func (fa *FuncAttrs) Add(a Attr) {
	if !fa.Has(a) {
		fa.enums = append(fa.enums, a)
	}
}

// Remove deletes a if present.
func (fa *FuncAttrs) Remove(a Attr) {
	fa.enums = slices.DeleteFunc(fa.enums, func(x Attr) bool { return x == a })
}

// Enums returns the enum attributes in sorted order.
func (fa *FuncAttrs) Enums() []Attr {
	out := slices.Clone(fa.enums)
	slices.Sort(out)
	return out
}

// Get returns the value of string attribute key.
func (fa *FuncAttrs) Get(key string) (string, bool) {
	v, ok := fa.strs[key]
	return v, ok
}

// Set stores string attribute key=value.
func (fa *FuncAttrs) Set(key, value string) {
	if fa.strs == nil {
		fa.strs = make(map[string]string)
	}
	fa.strs[key] = value
}

// Delete removes string attribute key.
func (fa *FuncAttrs) Delete(key string) {
	delete(fa.strs, key)
}

// Clone returns an independent copy.
func (fa *FuncAttrs) Clone() FuncAttrs {
	out := FuncAttrs{enums: slices.Clone(fa.enums)}
	if len(fa.strs) > 0 {
		out.strs = make(map[string]string, len(fa.strs))
		for k, v := range fa.strs {
			out.strs[k] = v
		}
	}
	return out
}

// String renders the set in LLVM attribute syntax.
func (fa *FuncAttrs) String() string {
	var parts []string
	for _, a := range fa.Enums() {
		parts = append(parts, a.String())
	}
	keys := make([]string, 0, len(fa.strs))
	for k := range fa.strs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q=%q", k, fa.strs[k]))
	}
	return strings.Join(parts, " ")
}
