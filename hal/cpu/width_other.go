// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build !amd64 && !arm64

package cpu

func hostWorkWidth() uint32 { return 1 }
