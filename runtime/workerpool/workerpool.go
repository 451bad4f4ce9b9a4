// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool runs execution contexts on a persistent set of
// goroutines. A Pool is created once per device and reused by every
// dispatch, so enqueuing a kernel does not spawn goroutines.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	err := pool.Run(ctx, numSlices, func(ctx context.Context, slice int) error {
//	    return runSlice(ctx, slice)
//	})
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool. Workers are spawned at creation and
// live until Close.
type Pool struct {
	numWorkers int
	workC      chan task

	// mu orders Close after the sends of every Run in flight.
	mu     sync.RWMutex
	closed bool
}

type task struct {
	fn   func()
	done *sync.WaitGroup
}

// New creates a pool of numWorkers workers, GOMAXPROCS if numWorkers <= 0.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan task, numWorkers*2),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for t := range p.workC {
		t.fn()
		t.done.Done()
	}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close shuts the pool down once pending work completes. It is safe to call
// more than once. Run on a closed pool executes sequentially.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.workC)
	}
}

// Run calls fn(ctx, i) exactly once for every i in [0, n) and waits for all
// calls. Indices are handed out one at a time, so uneven instances balance
// across workers.
//
// Run returns the first error. Once an error occurred or ctx is done,
// indices that have not started are skipped; running calls finish.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}

	var (
		next     atomic.Int64
		failed   atomic.Bool
		errOnce  sync.Once
		firstErr error
	)
	loop := func() {
		for !failed.Load() {
			i := int(next.Add(1)) - 1
			if i >= n {
				return
			}
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, i)
			}
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				failed.Store(true)
			}
		}
	}

	workers := min(p.numWorkers, n)
	p.mu.RLock()
	if workers == 1 || p.closed {
		p.mu.RUnlock()
		loop()
		return firstErr
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		p.workC <- task{fn: loop, done: &wg}
	}
	p.mu.RUnlock()
	wg.Wait()
	return firstErr
}
