// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/ir"
	"github.com/ajroetker/go-mux/ir/interp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// entryParams counts the instance and slice parameters leading every
// entry point.
const entryParams = 2

// KernelExec runs kernel over r. Each execution gets a command id that tags
// its log lines and errors.
func (d *Device) KernelExec(ctx context.Context, prog hal.Program, kernel string, r hal.NDRange, args []hal.Arg) error {
	d.life.RLock()
	defer d.life.RUnlock()
	if d.closed {
		return errors.Wrap(hal.ErrInvalidArgument, "device is closed")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	v, err := selectVariant(prog, kernel, r.Local)
	if err != nil {
		return err
	}
	entry := v.Hook.(*kernelEntry)
	if err := entry.checkArgs(args); err != nil {
		return errors.WithMessagef(err, "kernel %q", kernel)
	}

	cmd := uuid.New()
	base := abi.NewExecState(r.WorkDim, r.NumGroups(), r.Local, r.Offset)
	base.StateSize = uint32(entry.prog.layout.Size)
	klog.V(2).Infof("cpu: command %s: %s as %s, %v groups of %v", cmd, kernel, v.Name, base.NumGroups, base.LocalSize)
	start := time.Now()
	if err := d.disp.Run(withLaunch(ctx, &launch{args: args}), base, entry); err != nil {
		return errors.WithMessagef(err, "command %s: kernel %q", cmd, kernel)
	}
	klog.V(2).Infof("cpu: command %s finished in %s", cmd, time.Since(start))
	return nil
}

// launch holds the arguments of one KernelExec.
type launch struct {
	args []hal.Arg
}

type launchKey struct{}

func withLaunch(ctx context.Context, l *launch) context.Context {
	return context.WithValue(ctx, launchKey{}, l)
}

// kernelEntry is the invoker of one variant.
type kernelEntry struct {
	prog *program
	md   hal.Metadata
	fn   *ir.Func
}

func (e *kernelEntry) checkArgs(args []hal.Arg) error {
	if len(args) != len(e.md.Args) {
		return errors.Wrapf(hal.ErrInvalidArgument, "%d arguments, want %d", len(args), len(e.md.Args))
	}
	for i, am := range e.md.Args {
		a := args[i]
		if a.Kind != am.Kind {
			return errors.Wrapf(hal.ErrInvalidArgument, "argument %d is %s, want %s", i, a.Kind, am.Kind)
		}
		switch am.Kind {
		case hal.ArgScalar:
			if a.Size != am.Size {
				return errors.Wrapf(hal.ErrInvalidArgument, "argument %d is %d bytes, want %d", i, a.Size, am.Size)
			}
		case hal.ArgByVal:
			if uint64(len(a.Data)) != am.Size {
				return errors.Wrapf(hal.ErrInvalidArgument, "argument %d has %d bytes, want %d", i, len(a.Data), am.Size)
			}
		case hal.ArgBuffer:
			if _, ok := a.Buffer.(*interp.Object); !ok {
				return errors.Wrapf(hal.ErrInvalidArgument, "argument %d: buffer %T not allocated by the cpu device", i, a.Buffer)
			}
		case hal.ArgLocal:
			if a.Size == 0 {
				return errors.Wrapf(hal.ErrInvalidArgument, "argument %d requests no local memory", i)
			}
			if a.Size > interp.MaxObjectSize {
				return errors.Wrapf(hal.ErrOutOfMemory, "argument %d requests %d bytes of local memory", i, a.Size)
			}
		}
	}
	return nil
}

// Invoke runs one work-group: once for the looped backend, whose entry
// iterates over the work-items itself, or once per work-item on its own
// goroutine for the threaded backend.
func (e *kernelEntry) Invoke(ctx context.Context, instance, slice uint64, state *abi.ExecState) error {
	l, ok := ctx.Value(launchKey{}).(*launch)
	if !ok {
		return errors.Errorf("variant %q invoked outside a kernel execution", e.md.VariantName)
	}
	params, packed, err := e.groupParams(l.args, instance, slice)
	if err != nil {
		return errors.WithMessagef(err, "group %v", state.GroupID)
	}
	if !e.prog.threaded {
		return e.call(ctx, params, packed, *state)
	}

	n := state.LocalLinearSize()
	g, gctx := errgroup.WithContext(ctx)
	gctx = withBarrier(gctx, newBarrier(int(n)))
	for tid := range n {
		st := *state
		st.ThreadID = tid
		st.LocalID = abi.DecomposeLocalID(tid, st.LocalSize)
		g.Go(func() error {
			return errors.WithMessagef(e.call(gctx, params, packed, st), "work-item %d", tid)
		})
	}
	return g.Wait()
}

// call materializes st and runs the entry point.
func (e *kernelEntry) call(ctx context.Context, params []interp.Value, packed *interp.Object, st abi.ExecState) error {
	sl := e.prog.layout
	obj := interp.NewObject("exec_state", sl.Size)
	if err := obj.SetBytes(sl.Encode(st)); err != nil {
		return err
	}
	if packed != nil {
		if err := obj.WritePointer(sl.Field[abi.ExecStatePackedArgs], interp.Pointer{Obj: packed}); err != nil {
			return err
		}
	}
	vals := slices.Clone(params)
	vals[entryParams+e.md.StateParam] = interp.Ptr(interp.Pointer{Obj: obj})
	_, err := e.prog.mach.Call(ctx, e.fn, vals...)
	return err
}

// groupParams builds the entry arguments shared by the work-items of one
// group. Local memory is allocated here, so every group gets its own.
func (e *kernelEntry) groupParams(args []hal.Arg, instance, slice uint64) ([]interp.Value, *interp.Object, error) {
	vals := make([]interp.Value, len(e.fn.Params))
	vals[0], vals[1] = interp.Int(instance), interp.Int(slice)
	var packed *interp.Object
	if e.md.PackedArgsSize > 0 {
		packed = interp.NewObject("packed_args", e.md.PackedArgsSize)
		vals[entryParams] = interp.Ptr(interp.Pointer{Obj: packed})
	}
	scalar := func(am hal.ArgMetadata, size, v uint64) error {
		if am.Packed {
			return packed.WriteUint(am.Offset, size, v)
		}
		vals[entryParams+am.Param] = interp.Int(v)
		return nil
	}
	pointer := func(am hal.ArgMetadata, obj *interp.Object) error {
		p := interp.Pointer{Obj: obj}
		if am.Packed {
			return packed.WritePointer(am.Offset, p)
		}
		vals[entryParams+am.Param] = interp.Ptr(p)
		return nil
	}

	for i, am := range e.md.Args {
		a := args[i]
		var err error
		switch am.Kind {
		case hal.ArgScalar:
			err = scalar(am, am.Size, a.Value)
		case hal.ArgBuffer:
			err = pointer(am, a.Buffer.(*interp.Object))
		case hal.ArgLocal:
			if am.LocalBySize {
				err = scalar(am, 8, a.Size)
				break
			}
			var local *interp.Object
			if local, err = interp.AllocObject(fmt.Sprintf("local.%d", i), a.Size); err == nil {
				err = pointer(am, local)
			}
		case hal.ArgByVal:
			if !am.Packed {
				obj := interp.NewObject(fmt.Sprintf("byval.%d", i), am.Size)
				if err = obj.SetBytes(a.Data); err == nil {
					err = pointer(am, obj)
				}
				break
			}
			for j, b := range a.Data {
				if err = packed.WriteUint(am.Offset+uint64(j), 1, uint64(b)); err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "argument %d (%s)", i, am.Kind)
		}
	}
	return vals, packed, nil
}
