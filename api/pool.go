// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs: size-class allocators for frame memory.

package api

// Block is a pooled memory block handed out by a BlockPool.
type Block struct {
	Buf   []byte // len == requested size, cap == class size
	Class int
}

// BlockPool allocates fixed size-class blocks without blocking.
type BlockPool interface {
	// Alloc returns a block of at least size bytes or ErrResourceExhausted.
	Alloc(size int) (Block, error)

	// Free returns a block to its size class.
	Free(b Block)

	// AddAllocator registers a new size class.
	AddAllocator(size, prealloc, max int) error

	// Stats exposes resource/accounting metrics for observability.
	Stats() BlockPoolStats
}

// BlockPoolStats aggregates allocation/reuse counters per size class.
type BlockPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	Failures   int64
	Classes    map[int]int64 // in-use blocks per class
}
