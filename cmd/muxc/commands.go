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

package main

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ajroetker/go-mux/abi"
	"github.com/ajroetker/go-mux/compiler/builtins"
	"github.com/ajroetker/go-mux/hal"
	"github.com/ajroetker/go-mux/hal/cpu"
	"github.com/ajroetker/go-mux/internal/config"
	"github.com/ajroetker/go-mux/internal/kernels"
	"github.com/ajroetker/go-mux/ir"
	"github.com/ajroetker/go-mux/runtime/slicer"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newLayoutCmd() *cobra.Command {
	var noPadding bool
	cmd := &cobra.Command{
		Use:   "layout [size...]",
		Short: "Print the packed-argument layout of arguments of the given byte sizes, and the execution-state layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			sizes := make([]uint64, len(args))
			for i, a := range args {
				n, err := strconv.ParseUint(a, 10, 64)
				if err != nil {
					return errors.Wrapf(err, "argument size %q", a)
				}
				sizes[i] = n
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(sizes) > 0 {
				pl := abi.ComputePackedLayout(sizes, noPadding)
				fmt.Fprintln(w, "ARG\tSIZE\tALIGN\tPAD\tOFFSET\tFIELD")
				for i, f := range pl.Fields {
					fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n", i, f.Size, f.Align, f.PadBefore, f.Offset, f.StructIndex)
				}
				fmt.Fprintf(w, "size\t%d\t\t\t\t%d fields\n\n", pl.Size, pl.NumStructFields)
			}
			sl := builtins.ExecStateLayout(ir.NewModule("layout"))
			fmt.Fprintln(w, "STATE FIELD\tOFFSET")
			for f := range abi.NumWorkGroupInfoFields {
				fmt.Fprintf(w, "%s.%s\t%d\n", abi.ExecStateWorkGroupInfo, f, sl.WorkGroup[f])
			}
			for f := abi.ExecStateNumGroupsPerCall; f < abi.NumExecStateFields; f++ {
				fmt.Fprintf(w, "%s\t%d\n", f, sl.Field[f])
			}
			fmt.Fprintf(w, "size\t%d\n", sl.Size)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&noPadding, "no-padding", false, "lay arguments out without alignment padding")
	return cmd
}

func newSlicesCmd() *cobra.Command {
	var groups, total uint64
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "Print the work-group range each execution context runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ranges, err := slicer.All(groups, total)
			if err != nil {
				return err
			}
			for _, r := range ranges {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&groups, "groups", 1, "work-groups along x")
	cmd.Flags().Uint64Var(&total, "slices", uint64(config.LogicalCores()), "execution contexts")
	return cmd
}

// deviceFlags binds the flags that override configuration settings.
type deviceFlags struct {
	backend   string
	slices    int
	packed    bool
	noPadding bool
}

func (f *deviceFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.backend, "backend", "", "backend: threaded or looped")
	fs.IntVar(&f.slices, "slices", 0, "execution contexts per dispatch")
	fs.BoolVar(&f.packed, "packed", true, "pass arguments in a packed struct")
	fs.BoolVar(&f.noPadding, "no-padding", false, "pack arguments without alignment padding")
}

// load reads the configuration and applies the flags set on cmd.
func (f *deviceFlags) load(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("backend") {
		c.Backend = f.backend
		c.LocalsBySize = nil
	}
	if fs.Changed("slices") {
		c.NumSlices = f.slices
	}
	if fs.Changed("packed") {
		c.PackedArgs = f.packed
	}
	if fs.Changed("no-padding") {
		c.NoPadding = f.noPadding
	}
	return c, c.Validate()
}

func newCompileCmd() *cobra.Command {
	var (
		flags   deviceFlags
		output  string
		printIR bool
	)
	cmd := &cobra.Command{
		Use:   "compile [kernel...]",
		Short: "Lower sample kernels and print their metadata",
		Long: "Lower sample kernels (default: every one of " + strings.Join(kernels.Names(), ", ") +
			" the backend supports) and print their metadata.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.load(cmd)
			if err != nil {
				return err
			}
			d, err := cpu.New(c.DeviceOptions())
			if err != nil {
				return err
			}
			defer d.Close()
			names := args
			if len(names) == 0 {
				names = lo.Reject(kernels.Names(), func(n string, _ int) bool {
					return c.Backend == builtins.BackendLooped && kernels.UsesBarrier(n)
				})
			}
			m, err := kernels.Build("muxc", names...)
			if err != nil {
				return err
			}
			bin, err := d.Compile(m)
			if err != nil {
				return err
			}
			if printIR {
				fmt.Fprint(cmd.OutOrStdout(), bin.Module)
			}
			if output != "" {
				return hal.WriteMetadataFile(output, bin.Metadata)
			}
			return hal.EncodeMetadata(cmd.OutOrStdout(), bin.Metadata)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "", "write metadata to this file instead of stdout")
	cmd.Flags().BoolVar(&printIR, "ir", false, "print the lowered module")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		flags  deviceFlags
		kernel string
		global []uint
		local  []uint
		factor int32
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sample kernel on generated input and print its output buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.load(cmd)
			if err != nil {
				return err
			}
			r, err := hal.NewNDRange(toUint64s(global), toUint64s(local), nil)
			if err != nil {
				return err
			}
			d, err := cpu.New(c.DeviceOptions())
			if err != nil {
				return err
			}
			defer d.Close()
			m, err := kernels.Build("muxc", kernel)
			if err != nil {
				return err
			}
			bin, err := d.Compile(m)
			if err != nil {
				return err
			}
			prog, err := d.CreateProgram(bin)
			if err != nil {
				return err
			}
			out, args, err := sampleArgs(d, kernel, r, factor)
			if err != nil {
				return err
			}
			if err := d.KernelExec(cmd.Context(), prog, kernel, r, args); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), int32s(out.Bytes()))
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&kernel, "kernel", kernels.AddOne, "kernel to run: "+strings.Join(kernels.Names(), ", "))
	cmd.Flags().UintSliceVar(&global, "global", []uint{8}, "global size per dimension")
	cmd.Flags().UintSliceVar(&local, "local", []uint{4}, "local size per dimension")
	cmd.Flags().Int32Var(&factor, "factor", 2, "scale factor of scale and affine")
	return cmd
}

// sampleArgs allocates the buffers of kernel: inputs count up from 0. It
// returns the buffer to print.
func sampleArgs(d *cpu.Device, kernel string, r hal.NDRange, factor int32) (hal.Buffer, []hal.Arg, error) {
	items := r.Global[0] * r.Global[1] * r.Global[2]
	ng := r.NumGroups()
	ramp := func(n uint64) (hal.Buffer, error) {
		buf, err := d.AllocateBuffer(4 * n)
		if err != nil {
			return nil, err
		}
		data := make([]byte, 4*n)
		for i := range n {
			binary.LittleEndian.PutUint32(data[4*i:], uint32(i))
		}
		return buf, buf.SetBytes(data)
	}
	switch kernel {
	case kernels.AddOne, kernels.Scale:
		buf, err := ramp(items)
		if err != nil {
			return nil, nil, err
		}
		args := []hal.Arg{hal.BufferArg(buf)}
		if kernel == kernels.Scale {
			args = append(args, hal.Scalar(uint64(uint32(factor)), 4))
		}
		return buf, args, nil
	case kernels.Affine:
		buf, err := ramp(items)
		if err != nil {
			return nil, nil, err
		}
		return buf, []hal.Arg{hal.BufferArg(buf), hal.ByVal(kernels.AffineParams(factor, 1))}, nil
	case kernels.CountVisits:
		buf, err := d.AllocateBuffer(4 * items)
		return buf, []hal.Arg{hal.BufferArg(buf)}, err
	case kernels.LocalSum:
		in, err := ramp(items)
		if err != nil {
			return nil, nil, err
		}
		out, err := d.AllocateBuffer(4 * ng[0] * ng[1] * ng[2])
		if err != nil {
			return nil, nil, err
		}
		return out, []hal.Arg{hal.BufferArg(in), hal.BufferArg(out), hal.LocalArg(4 * r.Local[0])}, nil
	}
	return nil, nil, errors.Errorf("unknown kernel %q", kernel)
}

func toUint64s(v []uint) []uint64 {
	out := make([]uint64, len(v))
	for i, x := range v {
		out[i] = uint64(x)
	}
	return out
}

func int32s(data []byte) []int32 {
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}
