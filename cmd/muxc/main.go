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

// Command muxc lowers the bundled sample kernels for a CPU backend and runs
// them.
//
// Usage:
//
//	muxc layout 1 8 24 16            # packed-argument layout of the given sizes
//	muxc slices -groups 10 -slices 3 # work-group ranges of each slice
//	muxc compile -backend threaded -ir scale
//	muxc run -kernel local_sum -global 16 -local 4 -backend threaded
//
// Settings come from -config (YAML), a .env file next to it and MUX_*
// environment variables; explicit flags win.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "muxc",
		Short:         "Lower and run kernels on the CPU execution model",
		SilenceUsage: true,
	}
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)
	root.PersistentFlags().String("config", "", "YAML configuration file")

	root.AddCommand(newLayoutCmd(), newSlicesCmd(), newCompileCmd(), newRunCmd())
	return root
}
