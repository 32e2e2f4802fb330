// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/api"
)

var regionKeys atomic.Uint32

// Region is a stub registered-memory handle.
type Region struct {
	key uint32
	Buf []byte
}

var _ api.MemoryRegion = (*Region)(nil)

// Register allocates size bytes and returns them with a fresh key.
func Register(size int) *Region {
	return &Region{key: regionKeys.Add(1), Buf: make([]byte, size)}
}

func (r *Region) Key() uint32 { return r.key }

// Segment returns buf[from:to] tagged with the region.
func (r *Region) Segment(from, to int) api.Segment {
	return api.Segment{Data: r.Buf[from:to], MR: r}
}
