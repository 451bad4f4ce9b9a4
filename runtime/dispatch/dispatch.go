// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch drives kernel execution over an N-D range: every
// execution context takes one slice of the outer dimension and walks its
// work-groups, invoking the kernel's slice entry once per group.
package dispatch

import (
	"context"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/runtime/slicer"
	"github.com/ajroetker/go-mux/runtime/workerpool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Invoker runs the slice entry of a kernel for one work-group. instance is
// the group's x coordinate, not the index of the execution context running
// it. The entry derives the group id from instance and slice:
//
//	group_id = (instance, slice % num_groups[1], slice / num_groups[1])
//
// state is owned by the calling execution context and already holds the
// group id; Invoke must not retain it.
type Invoker interface {
	Invoke(ctx context.Context, instance, slice uint64, state *abi.ExecState) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, instance, slice uint64, state *abi.ExecState) error

func (f InvokerFunc) Invoke(ctx context.Context, instance, slice uint64, state *abi.ExecState) error {
	return f(ctx, instance, slice, state)
}

// Dispatcher runs kernels on a worker pool, one execution context per
// slice.
type Dispatcher struct {
	pool        *workerpool.Pool
	totalSlices int
}

// New returns a dispatcher splitting work into totalSlices slices, or one
// per pool worker if totalSlices <= 0.
func New(pool *workerpool.Pool, totalSlices int) *Dispatcher {
	if totalSlices <= 0 {
		totalSlices = pool.NumWorkers()
	}
	return &Dispatcher{pool: pool, totalSlices: totalSlices}
}

// TotalSlices returns the number of execution contexts per dispatch.
func (d *Dispatcher) TotalSlices() int { return d.totalSlices }

// Run executes every work-group of the range described by base. Each
// execution context works on its own copy of base. Groups of one slice run
// sequentially; slices run concurrently.
func (d *Dispatcher) Run(ctx context.Context, base abi.ExecState, inv Invoker) error {
	for dim, n := range base.NumGroups {
		if n == 0 {
			return errors.Errorf("dispatch: zero work-groups in dimension %d", dim)
		}
	}
	total := uint64(d.totalSlices)
	return d.pool.Run(ctx, d.totalSlices, func(ctx context.Context, s int) error {
		r, err := slicer.Compute(base.NumGroups[0], total, uint64(s))
		if err != nil {
			return err
		}
		if r.Empty() {
			klog.V(3).Infof("dispatch: %s is empty", r)
			return nil
		}
		state := base
		return runSlice(ctx, r, &state, inv)
	})
}

// runSlice walks z, y, then x restricted to r, invoking the entry for every
// group.
func runSlice(ctx context.Context, r slicer.Range, state *abi.ExecState, inv Invoker) error {
	ng := state.NumGroups
	for z := range ng[2] {
		for y := range ng[1] {
			slice := abi.LinearSlice(y, z, ng[1])
			for x := r.Start; x < r.End; x++ {
				state.GroupID = [abi.MaxDims]uint64{x, y, z}
				if err := inv.Invoke(ctx, x, slice, state); err != nil {
					return errors.WithMessagef(err, "work-group (%d, %d, %d)", x, y, z)
				}
			}
		}
	}
	return nil
}
