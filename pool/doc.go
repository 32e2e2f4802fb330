// Package pool
// Author: momentics <momentics@gmail.com>
//
// Frame memory layer for hioload-xmsgr.
// Implements a size-class slab allocator for outbound frame headers and a
// generic object pool for frame descriptors. Allocation never blocks: a
// size class that reached its cap reports api.ErrResourceExhausted and the
// caller decides whether to retry.
package pool
