// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// barrier is a reusable rendezvous for the work-items of one work-group.
// Every generation releases once n goroutines have arrived.
type barrier struct {
	n int

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

// Wait blocks until n goroutines have called Wait in the current
// generation, or ctx is done.
func (b *barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting at work-group barrier")
	}
}

type barrierKey struct{}

func withBarrier(ctx context.Context, b *barrier) context.Context {
	return context.WithValue(ctx, barrierKey{}, b)
}

func barrierFrom(ctx context.Context) (*barrier, bool) {
	b, ok := ctx.Value(barrierKey{}).(*barrier)
	return b, ok
}
