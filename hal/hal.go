// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package hal is the hardware abstraction the dispatcher executes kernels
// through: devices, programs built from compiled binaries, buffers and the
// kernel-execution call.
package hal

import (
	"context"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Distinguishable failure results. Callers match them with errors.Is.
var (
	// ErrUnsupported reports a feature the device or backend lacks.
	ErrUnsupported = errors.New("unsupported")

	// ErrOutOfMemory reports a failed allocation.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NDRange is the index space of one kernel execution.
type NDRange struct {
	WorkDim uint32
	Global  [abi.MaxDims]uint64
	Local   [abi.MaxDims]uint64
	Offset  [abi.MaxDims]uint64
}

// NewNDRange builds a range of workDim dimensions; unused dimensions get
// size 1.
func NewNDRange(global, local, offset []uint64) (NDRange, error) {
	r := NDRange{WorkDim: uint32(len(global))}
	if len(global) == 0 || len(global) > abi.MaxDims {
		return r, errors.Wrapf(ErrInvalidArgument, "work dim %d", len(global))
	}
	if len(local) != len(global) || (offset != nil && len(offset) != len(global)) {
		return r, errors.Wrapf(ErrInvalidArgument, "global %v, local %v and offset %v differ in rank", global, local, offset)
	}
	for d := range abi.MaxDims {
		r.Global[d], r.Local[d] = 1, 1
		if d < len(global) {
			r.Global[d], r.Local[d] = global[d], local[d]
			if offset != nil {
				r.Offset[d] = offset[d]
			}
		}
	}
	return r, r.Validate()
}

// Validate checks that every local size is non-zero and divides the global
// size.
func (r NDRange) Validate() error {
	for d := range abi.MaxDims {
		if r.Local[d] == 0 || r.Global[d] == 0 {
			return errors.Wrapf(ErrInvalidArgument, "dimension %d: global %d, local %d", d, r.Global[d], r.Local[d])
		}
		if r.Global[d]%r.Local[d] != 0 {
			return errors.Wrapf(ErrInvalidArgument, "dimension %d: global size %d not a multiple of local size %d", d, r.Global[d], r.Local[d])
		}
	}
	return nil
}

// NumGroups returns the number of work-groups per dimension.
func (r NDRange) NumGroups() [abi.MaxDims]uint64 {
	var ng [abi.MaxDims]uint64
	for d := range abi.MaxDims {
		ng[d] = r.Global[d] / r.Local[d]
	}
	return ng
}

// Buffer is device memory.
type Buffer interface {
	Size() uint64
	Bytes() []byte
	SetBytes(b []byte) error
}

// ArgKind tells how a kernel argument is passed.
type ArgKind int

const (
	// ArgScalar passes Value, Size bytes wide.
	ArgScalar ArgKind = iota
	// ArgBuffer passes a pointer to Buffer.
	ArgBuffer
	// ArgLocal requests Size bytes of work-group local memory.
	ArgLocal
	// ArgByVal passes a copy of Data.
	ArgByVal
)

var argKindNames = [...]string{
	ArgScalar: "scalar",
	ArgBuffer: "buffer",
	ArgLocal:  "local",
	ArgByVal:  "byval",
}

func (k ArgKind) String() string {
	if k >= 0 && int(k) < len(argKindNames) {
		return argKindNames[k]
	}
	return "unknown"
}

// MarshalYAML writes the kind by name.
func (k ArgKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// UnmarshalYAML reads a kind written by MarshalYAML.
func (k *ArgKind) UnmarshalYAML(value *yaml.Node) error {
	for i, name := range argKindNames {
		if value.Value == name {
			*k = ArgKind(i)
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidArgument, "line %d: unknown argument kind %q", value.Line, value.Value)
}

// Arg is one kernel argument.
type Arg struct {
	Kind   ArgKind
	Value  uint64
	Size   uint64
	Buffer Buffer
	Data   []byte
}

// Scalar returns a scalar argument of size bytes.
func Scalar(v, size uint64) Arg { return Arg{Kind: ArgScalar, Value: v, Size: size} }

// BufferArg returns a buffer argument.
func BufferArg(b Buffer) Arg { return Arg{Kind: ArgBuffer, Buffer: b} }

// LocalArg returns a local-memory argument of size bytes.
func LocalArg(size uint64) Arg { return Arg{Kind: ArgLocal, Size: size} }

// ByVal returns a by-value aggregate argument holding data.
func ByVal(data []byte) Arg { return Arg{Kind: ArgByVal, Size: uint64(len(data)), Data: data} }

// Binary is a compiled program: lowered IR plus per-kernel metadata.
type Binary struct {
	Module   *ir.Module
	Metadata []Metadata
}

// Program is a binary loaded on a device.
type Program interface {
	// Kernels returns the logical kernel names.
	Kernels() []string

	// Metadata returns the variant records of a kernel.
	Metadata(kernel string) []Metadata
}

// DeviceInfo describes a device.
type DeviceInfo struct {
	Name            string
	Backend         string
	NumComputeUnits int
	PrefWorkWidth   uint32
}

// Device executes kernels.
type Device interface {
	Info() DeviceInfo

	// CreateProgram loads a compiled binary.
	CreateProgram(bin *Binary) (Program, error)

	// AllocateBuffer returns zeroed device memory of size bytes.
	AllocateBuffer(size uint64) (Buffer, error)

	// FreeBuffer returns memory from AllocateBuffer to the device. The
	// buffer must not be used afterwards.
	FreeBuffer(buf Buffer) error

	// KernelExec runs kernel of program over r with args, returning when
	// every work-item has finished.
	KernelExec(ctx context.Context, program Program, kernel string, r NDRange, args []Arg) error

	// SubGroupSize reports the sub-group size the kernel would run with for
	// local size local.
	SubGroupSize(program Program, kernel string, local [abi.MaxDims]uint64) (uint64, error)

	Close() error
}
