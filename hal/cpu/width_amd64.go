// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64

package cpu

import "golang.org/x/sys/cpu"

// hostWorkWidth is the number of 32-bit lanes of the widest vector unit.
func hostWorkWidth() uint32 {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2:
		return 8
	case cpu.X86.HasSSE41:
		return 4
	}
	return 1
}
