// File: pool/frame_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-class block pool backing outbound frame memory.

package pool

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/api"
)

const (
	defaultMaxPerClass = 4096
	defaultPrealloc    = 15
)

// ClassSpec describes one size class of a FramePool.
type ClassSpec struct {
	Size     int
	Prealloc int
	Max      int
}

// DefaultClasses returns the stock size classes: 64, 256, 1024 bytes and
// one page.
func DefaultClasses() []ClassSpec {
	sizes := []int{64, 256, 1024, pageSize()}
	out := make([]ClassSpec, 0, len(sizes))
	for _, s := range sizes {
		out = append(out, ClassSpec{Size: s, Prealloc: defaultPrealloc, Max: defaultMaxPerClass})
	}
	return out
}

// FramePool is a process-shareable size-class allocator.
type FramePool struct {
	mu      sync.RWMutex
	classes []*slabClass // ascending by size
	bySize  map[int]*slabClass
	closed  atomic.Bool
	misses  atomic.Int64 // requests larger than the largest class
}

var _ api.BlockPool = (*FramePool)(nil)

// NewFramePool builds a pool with the given classes; nil means DefaultClasses.
func NewFramePool(specs []ClassSpec) (*FramePool, error) {
	if specs == nil {
		specs = DefaultClasses()
	}
	p := &FramePool{bySize: make(map[int]*slabClass)}
	for _, s := range specs {
		if err := p.AddAllocator(s.Size, s.Prealloc, s.Max); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddAllocator registers a new size class. Registering an existing size
// returns api.ErrAlreadyExists.
func (p *FramePool) AddAllocator(size, prealloc, max int) error {
	if size <= 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "size class must be positive").
			WithContext("size", size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bySize[size]; ok {
		return api.NewError(api.ErrCodeAlreadyExists, "size class already registered").
			WithContext("size", size)
	}
	sc := newSlabClass(size, prealloc, max)
	p.bySize[size] = sc
	p.classes = append(p.classes, sc)
	sort.Slice(p.classes, func(i, j int) bool { return p.classes[i].size < p.classes[j].size })
	return nil
}

// Alloc returns a block from the smallest class that fits size.
func (p *FramePool) Alloc(size int) (api.Block, error) {
	if p.closed.Load() {
		return api.Block{}, api.NewError(api.ErrCodeResourceExhausted, "frame pool closed")
	}
	p.mu.RLock()
	idx := sort.Search(len(p.classes), func(i int) bool { return p.classes[i].size >= size })
	if idx == len(p.classes) {
		p.mu.RUnlock()
		p.misses.Add(1)
		return api.Block{}, api.NewError(api.ErrCodeResourceExhausted, "no size class fits request").
			WithContext("size", size)
	}
	sc := p.classes[idx]
	p.mu.RUnlock()

	buf, ok := sc.get()
	if !ok {
		return api.Block{}, api.NewError(api.ErrCodeResourceExhausted, "size class exhausted").
			WithContext("class", sc.size)
	}
	return api.Block{Buf: buf[:size], Class: sc.size}, nil
}

// Free returns a block to its class. Blocks of unknown classes are dropped.
func (p *FramePool) Free(b api.Block) {
	if b.Buf == nil {
		return
	}
	p.mu.RLock()
	sc, ok := p.bySize[b.Class]
	p.mu.RUnlock()
	if ok {
		sc.put(b.Buf)
	}
}

// Close makes every later Alloc fail. Outstanding blocks may still be freed.
func (p *FramePool) Close() {
	p.closed.Store(true)
}

// Closed reports whether Close was called.
func (p *FramePool) Closed() bool {
	return p.closed.Load()
}

// Stats aggregates counters across classes.
func (p *FramePool) Stats() api.BlockPoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := api.BlockPoolStats{
		Classes:  make(map[int]int64, len(p.classes)),
		Failures: p.misses.Load(),
	}
	for _, sc := range p.classes {
		st.TotalAlloc += sc.totalAlloc.Load()
		st.TotalFree += sc.totalFree.Load()
		st.Failures += sc.failures.Load()
		in := sc.inUse.Load()
		st.InUse += in
		st.Classes[sc.size] = in
	}
	return st
}
