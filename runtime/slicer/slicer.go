// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package slicer partitions the work-groups of the outer dispatched
// dimension into contiguous ranges, one per execution context.
package slicer

import (
	"fmt"

	"github.com/pkg/errors"
)

// Range is the half-open range [Start, End) of work-group indices along
// the outer dimension that slice Slice of TotalSlices executes.
type Range struct {
	Slice       uint64
	TotalSlices uint64
	Start       uint64
	End         uint64
}

// Empty reports whether the slice has no work-groups. Dispatchers skip
// empty slices without entering their loops.
func (r Range) Empty() bool { return r.Start >= r.End }

// Len returns the number of work-groups in the range.
func (r Range) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("slice %d/%d [%d, %d)", r.Slice, r.TotalSlices, r.Start, r.End)
}

// Compute returns the range of slice out of totalSlices over numGroups
// work-groups:
//
//	size  = (numGroups + totalSlices) / totalSlices
//	start = size * slice
//	end   = min(numGroups, start + size)
//
// The size rounds up by a whole slice rather than by totalSlices-1. The
// clamp keeps the ranges an exact partition of [0, numGroups); trailing
// slices may be empty when totalSlices does not divide numGroups.
func Compute(numGroups, totalSlices, slice uint64) (Range, error) {
	if totalSlices == 0 {
		return Range{}, errors.New("slicer: zero slices")
	}
	if slice >= totalSlices {
		return Range{}, errors.Errorf("slicer: slice %d out of range [0, %d)", slice, totalSlices)
	}
	roundedUp := numGroups + totalSlices
	size := roundedUp / totalSlices
	start := size * slice
	end := min(numGroups, start+size)
	return Range{Slice: slice, TotalSlices: totalSlices, Start: start, End: end}, nil
}

// All returns the range of every slice.
func All(numGroups, totalSlices uint64) ([]Range, error) {
	if totalSlices == 0 {
		return nil, errors.New("slicer: zero slices")
	}
	out := make([]Range, totalSlices)
	for s := range totalSlices {
		r, err := Compute(numGroups, totalSlices, s)
		if err != nil {
			return nil, err
		}
		out[s] = r
	}
	return out, nil
}
