// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame is the pooled unit holding one outbound message: its encoded
// header block and its chain of transmission requests.

package protocol

import (
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/pool"
)

// Frame is one outbound message ready for the transport.
type Frame struct {
	Header FrameHeader
	Msg    api.Message    // kept for lifetime and ordering, never transmitted
	Conn   api.Connection // connection the frame was built for

	hdr      api.Block
	reqs     []api.Request
	entries  []api.Entry // backing store for all request entries
	n        int
	total    int
	released atomic.Bool
	alloc    *FrameAllocator
	onFree   func(*Frame)
}

var _ api.Outbound = (*Frame)(nil)

// Head returns the first request of the chain.
func (f *Frame) Head() *api.Request {
	if f.n == 0 {
		return nil
	}
	return &f.reqs[0]
}

// Len returns the number of chained requests.
func (f *Frame) Len() int { return f.n }

// TotalBytes is the logical byte count of all entries.
func (f *Frame) TotalBytes() int { return f.total }

// HeaderBytes returns the encoded header carried by request 0.
func (f *Frame) HeaderBytes() []byte { return f.hdr.Buf }

// OnRelease registers fn to run once when the frame is released.
func (f *Frame) OnRelease(fn func(*Frame)) { f.onFree = fn }

// Release returns the frame memory to its pools. Only the first call has
// an effect.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.onFree != nil {
		f.onFree(f)
	}
	if f.alloc != nil {
		f.alloc.recycle(f)
	}
}

// Released reports whether Release ran.
func (f *Frame) Released() bool { return f.released.Load() }

func (f *Frame) prepare(requests, maxEntries int) {
	need := requests * maxEntries
	if cap(f.entries) < need {
		f.entries = make([]api.Entry, need)
	}
	f.entries = f.entries[:need]
	if cap(f.reqs) < requests {
		f.reqs = make([]api.Request, requests)
	}
	f.reqs = f.reqs[:requests]
	for i := range f.reqs {
		lo := i * maxEntries
		f.reqs[i] = api.Request{Entries: f.entries[lo : lo : lo+maxEntries]}
	}
	f.n = requests
	f.released.Store(false)
}

func (f *Frame) reset() {
	clear(f.entries)
	clear(f.reqs)
	f.Header = FrameHeader{}
	f.Msg = nil
	f.Conn = nil
	f.hdr = api.Block{}
	f.n = 0
	f.total = 0
	f.onFree = nil
}

// FrameAllocator builds frames from a block pool for headers and an object
// pool for frame descriptors.
type FrameAllocator struct {
	blocks api.BlockPool
	frames *pool.SyncPool[*Frame]
	lim    Limits
}

// NewFrameAllocator returns an allocator packing with lim.
func NewFrameAllocator(blocks api.BlockPool, lim Limits) (*FrameAllocator, error) {
	if err := lim.Validate(); err != nil {
		return nil, err
	}
	return &FrameAllocator{
		blocks: blocks,
		frames: pool.NewSyncPool(func() *Frame { return &Frame{} }, (*Frame).reset),
		lim:    lim,
	}, nil
}

// Limits returns the request bounds used by Build.
func (a *FrameAllocator) Limits() Limits { return a.lim }

// Build counts, allocates, places and links a frame for msg. The header's
// MsgCnt is set from the counted plan. Allocation failure of the header
// block is reported as api.ErrResourceExhausted.
func (a *FrameAllocator) Build(msg api.Message, hdr FrameHeader, r Regions) (*Frame, error) {
	plan, err := Count(r, a.lim)
	if err != nil {
		return nil, err
	}
	hdr.MsgCnt = uint32(plan.Requests)

	block, err := a.blocks.Alloc(hdr.EncodedLen())
	if err != nil {
		return nil, err
	}
	if _, err := hdr.Encode(block.Buf); err != nil {
		a.blocks.Free(block)
		return nil, err
	}

	f := a.frames.Get()
	f.prepare(plan.Requests, a.lim.MaxEntries)
	f.alloc = a
	f.hdr = block
	f.Header = hdr
	f.Msg = msg

	used, err := Place(r, a.lim, f.reqs)
	if err != nil {
		f.Release()
		return nil, err
	}
	f.n = used
	f.total = plan.Bytes
	Link(f.reqs, f.n)
	f.reqs[0].Header = block.Buf
	return f, nil
}

func (a *FrameAllocator) recycle(f *Frame) {
	a.blocks.Free(f.hdr)
	a.frames.Put(f)
}
