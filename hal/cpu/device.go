// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu is the host device: kernels compiled by the lowering pipeline
// run on the IR interpreter, work-groups spread over a worker pool one
// slice per execution context.
package cpu

import (
	"context"
	"sync"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/compiler/passes"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/ir"
	"github.com/ajroetker/go-mux/ir/interp"
	"github.com/ajroetker/go-mux/runtime/dispatch"
	"github.com/ajroetker/go-mux/runtime/workerpool"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// Options configures a Device.
type Options struct {
	// Backend is builtins.BackendThreaded or builtins.BackendLooped.
	Backend string

	// NumSlices is the number of execution contexts a dispatch is split
	// into. Zero uses one per pool worker.
	NumSlices int

	// Workers sizes the worker pool. Zero uses GOMAXPROCS.
	Workers int

	// Policy is the argument-passing convention of compiled kernels.
	Policy passes.WrapperPolicy

	// MaxMemory bounds the bytes held by live buffers. Zero is
	// unlimited.
	MaxMemory uint64

	// VerifyEach verifies the module after every lowering pass.
	VerifyEach bool
}

// Device runs kernels on the host.
type Device struct {
	opts  Options
	info  builtins.Info
	pool  *workerpool.Pool
	disp  *dispatch.Dispatcher
	width uint32

	// life is held shared by every KernelExec and exclusively by Close.
	life   sync.RWMutex
	closed bool

	mu        sync.Mutex
	allocated uint64
	buffers   map[*interp.Object]uint64
}

var _ hal.Device = (*Device)(nil)

// New returns a device for opts.
func New(opts Options) (*Device, error) {
	info, err := builtins.New(opts.Backend)
	if err != nil {
		return nil, err
	}
	if opts.Backend == builtins.BackendThreaded && opts.Policy.LocalsBySize {
		// Work-items of a group run on separate goroutines and must share
		// local memory, so the device allocates it per group.
		return nil, errors.Wrap(hal.ErrUnsupported, "threaded backend with local memory passed by size")
	}
	pool := workerpool.New(opts.Workers)
	d := &Device{
		opts:    opts,
		info:    info,
		pool:    pool,
		disp:    dispatch.New(pool, opts.NumSlices),
		width:   hostWorkWidth(),
		buffers: make(map[*interp.Object]uint64),
	}
	klog.V(1).Infof("cpu: %s device, %d slices on %d workers, preferred work width %d",
		opts.Backend, d.disp.TotalSlices(), pool.NumWorkers(), d.width)
	return d, nil
}

func (d *Device) Info() hal.DeviceInfo {
	return hal.DeviceInfo{
		Name:            "cpu",
		Backend:         d.opts.Backend,
		NumComputeUnits: d.disp.TotalSlices(),
		PrefWorkWidth:   d.width,
	}
}

// Compile lowers m in place for this device and returns the binary.
func (d *Device) Compile(m *ir.Module) (*hal.Binary, error) {
	pl := passes.NewPipeline(d.info, passes.Options{
		Policy:        d.opts.Policy,
		VerifyEach:    d.opts.VerifyEach,
		PrefWorkWidth: d.width,
	})
	kernels, err := pl.Run(m)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling %q for %s", m.Name, d.opts.Backend)
	}
	return &hal.Binary{
		Module:   m,
		Metadata: lo.Map(kernels, func(k passes.CompiledKernel, _ int) hal.Metadata { return k.Metadata }),
	}, nil
}

// CreateProgram loads bin, which must have been compiled for the device's
// backend.
func (d *Device) CreateProgram(bin *hal.Binary) (hal.Program, error) {
	if bin == nil || bin.Module == nil {
		return nil, errors.Wrap(hal.ErrInvalidArgument, "empty binary")
	}
	p := &program{
		bin:      bin,
		threaded: d.opts.Backend == builtins.BackendThreaded,
		layout:   builtins.ExecStateLayout(bin.Module),
		variants: make(map[string][]dispatch.Variant),
	}
	p.mach = interp.New(bin.Module, interp.WithExternal(builtins.BarrierTrapName, barrierTrap))
	for _, md := range bin.Metadata {
		fn := bin.Module.Func(md.VariantName)
		if fn == nil || fn.IsDeclaration() {
			return nil, errors.Wrapf(hal.ErrInvalidArgument, "variant %q of kernel %q not in module %q", md.VariantName, md.KernelName, bin.Module.Name)
		}
		if len(fn.Params) < entryParams+md.StateParam+1 {
			return nil, errors.Wrapf(hal.ErrInvalidArgument, "variant %q has %d parameters, state expected at %d", md.VariantName, len(fn.Params), entryParams+md.StateParam)
		}
		if _, ok := p.variants[md.KernelName]; !ok {
			p.kernels = append(p.kernels, md.KernelName)
		}
		p.variants[md.KernelName] = append(p.variants[md.KernelName],
			dispatch.VariantFromMetadata(md, &kernelEntry{prog: p, md: md, fn: fn}))
	}
	klog.V(2).Infof("cpu: program %q with kernels %v", bin.Module.Name, p.kernels)
	return p, nil
}

// AllocateBuffer returns a zeroed interpreter object of size bytes.
func (d *Device) AllocateBuffer(size uint64) (hal.Buffer, error) {
	d.life.RLock()
	defer d.life.RUnlock()
	if d.closed {
		return nil, errors.Wrap(hal.ErrInvalidArgument, "device is closed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.MaxMemory > 0 && size > d.opts.MaxMemory-d.allocated {
		return nil, errors.Wrapf(hal.ErrOutOfMemory, "allocating %d bytes with %d of %d in use", size, d.allocated, d.opts.MaxMemory)
	}
	obj, err := interp.AllocObject("buffer", size)
	if err != nil {
		return nil, errors.Wrap(hal.ErrOutOfMemory, err.Error())
	}
	d.allocated += size
	d.buffers[obj] = size
	return obj, nil
}

// FreeBuffer releases buf, which must come from AllocateBuffer of d.
func (d *Device) FreeBuffer(buf hal.Buffer) error {
	obj, ok := buf.(*interp.Object)
	if !ok {
		return errors.Wrapf(hal.ErrInvalidArgument, "buffer %T not allocated by the cpu device", buf)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	size, ok := d.buffers[obj]
	if !ok {
		return errors.Wrap(hal.ErrInvalidArgument, "buffer not allocated by this device or already freed")
	}
	delete(d.buffers, obj)
	d.allocated -= size
	return nil
}

// Allocated returns the bytes held by live buffers.
func (d *Device) Allocated() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// SubGroupSize reports the sub-group size of the variant kernel would run
// with for work-groups of local.
func (d *Device) SubGroupSize(prog hal.Program, kernel string, local [abi.MaxDims]uint64) (uint64, error) {
	v, err := selectVariant(prog, kernel, local)
	if err != nil {
		return 0, err
	}
	return dispatch.SubGroupSize(v, local), nil
}

// Close waits for running executions and stops the worker pool. Later
// calls on the device fail.
func (d *Device) Close() error {
	d.life.Lock()
	defer d.life.Unlock()
	if !d.closed {
		d.closed = true
		d.pool.Close()
	}
	return nil
}

// program is a loaded binary.
type program struct {
	bin      *hal.Binary
	mach     *interp.Machine
	threaded bool
	layout   builtins.StateLayout
	kernels  []string
	variants map[string][]dispatch.Variant
}

func (p *program) Kernels() []string { return p.kernels }

func (p *program) Metadata(kernel string) []hal.Metadata {
	return lo.FilterMap(p.variants[kernel], func(v dispatch.Variant, _ int) (hal.Metadata, bool) {
		e, ok := v.Hook.(*kernelEntry)
		if !ok {
			return hal.Metadata{}, false
		}
		return e.md, true
	})
}

func selectVariant(prog hal.Program, kernel string, local [abi.MaxDims]uint64) (*dispatch.Variant, error) {
	p, ok := prog.(*program)
	if !ok {
		return nil, errors.Wrapf(hal.ErrInvalidArgument, "program %T was not created by the cpu device", prog)
	}
	variants, ok := p.variants[kernel]
	if !ok {
		return nil, errors.Wrapf(hal.ErrInvalidArgument, "no kernel %q in program %q", kernel, p.bin.Module.Name)
	}
	return dispatch.SelectVariant(variants, local)
}

// barrierTrap parks a threaded work-item until its whole group arrives.
func barrierTrap(ctx context.Context, args []interp.Value) (interp.Value, error) {
	b, ok := barrierFrom(ctx)
	if !ok {
		return interp.Value{}, errors.Wrap(hal.ErrUnsupported, "work-group barrier outside a threaded work-group")
	}
	if klog.V(4).Enabled() {
		klog.Infof("cpu: barrier %d", args[0].Bits)
	}
	return interp.Value{}, b.Wait(ctx)
}
