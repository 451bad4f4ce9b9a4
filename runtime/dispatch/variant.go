// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/ajroetker/go-mux/hal"
	"github.com/pkg/errors"
)

// ErrNoMatchingVariant is returned when no variant of a kernel can run the
// requested work-group size. Callers may retry with another size.
var ErrNoMatchingVariant = errors.New("no matching kernel variant")

// Variant is one executable version of a kernel.
type Variant struct {
	Name string

	// SubGroupSize is 0 for degenerate sub-groups spanning the whole
	// work-group.
	SubGroupSize  uint32
	MinWorkWidth  uint32
	PrefWorkWidth uint32

	Hook Invoker
}

// VariantFromMetadata returns the variant described by md.
func VariantFromMetadata(md hal.Metadata, hook Invoker) Variant {
	return Variant{
		Name:          md.VariantName,
		SubGroupSize:  md.SubGroupSize,
		MinWorkWidth:  max(md.MinWorkWidth, 1),
		PrefWorkWidth: max(md.PrefWorkWidth, 1),
		Hook:          hook,
	}
}

// Degenerate reports whether the variant's sub-groups span the work-group.
func (v *Variant) Degenerate() bool { return v.SubGroupSize == 0 }

// legal reports whether v can run work-groups localX wide.
func (v *Variant) legal(localX uint64) bool {
	if localX%uint64(max(v.MinWorkWidth, 1)) != 0 {
		return false
	}
	return v.Degenerate() || localX%uint64(v.SubGroupSize) == 0
}

// SelectVariant picks the variant to run work-groups of localSize. Among
// legal variants it prefers a higher preferred width, but only when the
// work-group is at least that wide and the switch does not trade a width
// dividing localSize[0] for one that does not. At equal preferred width a
// variant with real sub-groups beats a degenerate one.
func SelectVariant(variants []Variant, localSize [3]uint64) (*Variant, error) {
	lx := localSize[0]
	var best *Variant
	for i := range variants {
		v := &variants[i]
		if !v.legal(lx) {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		pref, bestPref := uint64(max(v.PrefWorkWidth, 1)), uint64(max(best.PrefWorkWidth, 1))
		switch {
		case pref > bestPref:
			if lx >= pref && (lx%pref == 0 || lx%bestPref != 0) {
				best = v
			}
		case pref == bestPref:
			if best.Degenerate() && !v.Degenerate() {
				best = v
			}
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrNoMatchingVariant, "local size %v", localSize)
	}
	return best, nil
}

// SubGroupSize returns the sub-group size v uses for work-groups of
// localSize. Sub-groups run along x.
func SubGroupSize(v *Variant, localSize [3]uint64) uint64 {
	if v.Degenerate() {
		return localSize[0] * localSize[1] * localSize[2]
	}
	return min(localSize[0], uint64(v.SubGroupSize))
}
