// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build arm64

package cpu

import "golang.org/x/sys/cpu"

func hostWorkWidth() uint32 {
	// ASIMD is architectural on ARMv8; SVE vector length is not queried.
	if cpu.ARM64.HasASIMD {
		return 4
	}
	return 1
}
