// File: pool/slab_pool.go
// Package pool implements lock-free slab allocation with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/internal/concurrency"
)

// slabClass hands out fixed-size blocks for one size class. The number of
// live blocks is capped at max; the free list keeps returned blocks.
type slabClass struct {
	size int
	max  int64

	free *concurrency.LockFreeQueue[[]byte]

	inUse      atomic.Int64
	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	failures   atomic.Int64
}

func newSlabClass(size, prealloc, max int) *slabClass {
	if max <= 0 {
		max = defaultMaxPerClass
	}
	if prealloc > max {
		prealloc = max
	}
	sc := &slabClass{
		size: size,
		max:  int64(max),
		free: concurrency.NewLockFreeQueue[[]byte](max),
	}
	for i := 0; i < prealloc; i++ {
		sc.free.Enqueue(make([]byte, size))
	}
	return sc
}

// get reserves a slot and returns a block of the class size.
func (sc *slabClass) get() ([]byte, bool) {
	for {
		n := sc.inUse.Load()
		if n >= sc.max {
			sc.failures.Add(1)
			return nil, false
		}
		if sc.inUse.CompareAndSwap(n, n+1) {
			break
		}
	}
	sc.totalAlloc.Add(1)
	if buf, ok := sc.free.Dequeue(); ok {
		return buf, true
	}
	return make([]byte, sc.size), true
}

func (sc *slabClass) put(buf []byte) {
	sc.inUse.Add(-1)
	sc.totalFree.Add(1)
	// Full free list: let the GC take it.
	sc.free.Enqueue(buf[:cap(buf)])
}
