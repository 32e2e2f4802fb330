// Package api
// Author: momentics
//
// Zero-copy scatter-gather descriptors exchanged with the transport.
//
// Segments reference existing bytes; nothing here copies payload data.

package api

// MemoryRegion is a registered-memory handle the transport may use for
// zero-copy transmission of the bytes it covers.
type MemoryRegion interface {
	// Key returns the local key of the registration.
	Key() uint32
}

// Segment is one immutable fragment of a message region.
type Segment struct {
	Data []byte
	MR   MemoryRegion // nil when the fragment is not registered
}

// Entry is one scatter-gather element of a transmission request.
type Entry struct {
	Data []byte
	MR   MemoryRegion
}

// Request is one bounded transport-level send request.
type Request struct {
	Header      []byte  // frame header, first request only
	Entries     []Entry // populated prefix of the preallocated entries
	Bytes       int     // running byte total of Entries
	MoreInBatch bool
	Next        *Request
}

// Outbound is a linked chain of requests handed to the transport as a unit.
type Outbound interface {
	// Head returns the first request of the chain.
	Head() *Request
	// Len returns the number of chained requests.
	Len() int
}
