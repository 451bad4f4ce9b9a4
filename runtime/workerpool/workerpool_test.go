// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
)

func TestNew(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", pool.NumWorkers())
	}
}

func TestNewDefault(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if pool.NumWorkers() != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d, want %d", pool.NumWorkers(), runtime.GOMAXPROCS(0))
	}
}

func TestRunEachIndexOnce(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	for _, n := range []int{0, 1, 3, 4, 100} {
		counts := make([]atomic.Int32, n)
		err := pool.Run(context.Background(), n, func(_ context.Context, i int) error {
			counts[i].Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Run(%d): %v", n, err)
		}
		for i := range counts {
			if got := counts[i].Load(); got != 1 {
				t.Errorf("n=%d: index %d ran %d times", n, i, got)
			}
		}
	}
}

func TestRunError(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	boom := errors.New("boom")
	var ran atomic.Int32
	err := pool.Run(context.Background(), 1000, func(_ context.Context, i int) error {
		ran.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
	if ran.Load() == 1000 {
		t.Errorf("all indices ran after an error")
	}
}

func TestRunCancelled(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Int32
	err := pool.Run(ctx, 10, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if ran.Load() != 0 {
		t.Errorf("%d indices ran after cancellation", ran.Load())
	}
}

func TestRunAfterClose(t *testing.T) {
	pool := New(4)
	pool.Close()
	pool.Close()

	sum := 0
	err := pool.Run(context.Background(), 10, func(_ context.Context, i int) error {
		sum += i
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum != 45 {
		t.Errorf("sum = %d, want 45", sum)
	}
}

func TestRunConcurrentClose(t *testing.T) {
	for range 20 {
		pool := New(4)
		var (
			wg    sync.WaitGroup
			total atomic.Int64
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					err := pool.Run(context.Background(), 16, func(_ context.Context, i int) error {
						total.Add(1)
						return nil
					})
					if err != nil {
						t.Error(err)
						return
					}
				}
			}()
		}
		runtime.Gosched()
		pool.Close()
		wg.Wait()
		if got := total.Load(); got != 8*10*16 {
			t.Fatalf("ran %d indices, want %d", got, 8*10*16)
		}
	}
}

func BenchmarkRun(b *testing.B) {
	pool := New(runtime.GOMAXPROCS(0))
	defer pool.Close()

	var sink atomic.Int64
	for b.Loop() {
		_ = pool.Run(context.Background(), 64, func(_ context.Context, i int) error {
			sink.Add(int64(i))
			return nil
		})
	}
}
