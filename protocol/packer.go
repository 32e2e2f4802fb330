// File: protocol/packer.go
// Package protocol implements outbound frame packing and the frame header codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The packer maps a message's front/middle/data regions onto a chain of
// bounded scatter-gather requests. Counting and placement share walk, so
// both passes roll over at exactly the same positions.

package protocol

import (
	"github.com/momentics/hioload-xmsgr/api"
)

// Default request bounds.
const (
	DefaultMaxEntries = 16
	DefaultMaxBytes   = 1044480
)

// Limits bound a single transmission request.
type Limits struct {
	MaxEntries int
	MaxBytes   int
}

// DefaultLimits returns the stock request bounds.
func DefaultLimits() Limits {
	return Limits{MaxEntries: DefaultMaxEntries, MaxBytes: DefaultMaxBytes}
}

// Validate rejects non-positive bounds.
func (l Limits) Validate() error {
	if l.MaxEntries <= 0 || l.MaxBytes <= 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "request limits must be positive").
			WithContext("max_entries", l.MaxEntries).
			WithContext("max_bytes", l.MaxBytes)
	}
	return nil
}

// Regions are the three logical byte regions of a message, in wire order.
type Regions struct {
	Front  []api.Segment
	Middle []api.Segment
	Data   []api.Segment
}

// RegionsOf collects the regions of an encoded message.
func RegionsOf(m api.Message) Regions {
	return Regions{Front: m.Front(), Middle: m.Middle(), Data: m.Data()}
}

// Len returns the total byte count across regions.
func (r Regions) Len() int {
	n := 0
	for _, region := range [...][]api.Segment{r.Front, r.Middle, r.Data} {
		for _, s := range region {
			n += len(s.Data)
		}
	}
	return n
}

func regionLen(segs []api.Segment) int {
	n := 0
	for _, s := range segs {
		n += len(s.Data)
	}
	return n
}

// Plan is the outcome of the counting pass.
type Plan struct {
	Requests int // populated requests, always >= 1
	Entries  int // scatter-gather entries across all requests
	Bytes    int
}

// cursor tracks the position inside the request being filled.
type cursor struct {
	req     int
	entries int
	bytes   int
}

// walk is the single splitting and rollover rule. emit may be nil.
func walk(r Regions, lim Limits, cur *cursor, emit func(req int, e api.Entry) bool) (int, bool) {
	placed := 0
	for _, region := range [...][]api.Segment{r.Front, r.Middle, r.Data} {
		for _, seg := range region {
			data := seg.Data
			for off := 0; off < len(data); {
				n := len(data) - off
				if cur.bytes+n > lim.MaxBytes {
					n = lim.MaxBytes - cur.bytes
				}
				if emit != nil && !emit(cur.req, api.Entry{Data: data[off : off+n], MR: seg.MR}) {
					return placed, false
				}
				placed++
				off += n
				cur.bytes += n
				cur.entries++
				if cur.entries >= lim.MaxEntries || cur.bytes >= lim.MaxBytes {
					cur.req++
					cur.entries = 0
					cur.bytes = 0
				}
			}
		}
	}
	return placed, true
}

// Count runs the counting pass. The walk rolls over eagerly once a request
// fills, so the request it rolled into may be empty; that tail is not
// counted.
func Count(r Regions, lim Limits) (Plan, error) {
	if err := lim.Validate(); err != nil {
		return Plan{}, err
	}
	var cur cursor
	entries, _ := walk(r, lim, &cur, nil)
	required := cur.req + 1
	if cur.entries == 0 && required > 1 {
		required--
	}
	return Plan{Requests: required, Entries: entries, Bytes: r.Len()}, nil
}

// Place runs the placement pass into reqs, which must hold plan.Requests
// requests whose Entries slices have capacity lim.MaxEntries. It returns
// the number of populated requests.
func Place(r Regions, lim Limits, reqs []api.Request) (int, error) {
	if err := lim.Validate(); err != nil {
		return 0, err
	}
	var cur cursor
	_, ok := walk(r, lim, &cur, func(req int, e api.Entry) bool {
		if req >= len(reqs) {
			return false
		}
		rq := &reqs[req]
		rq.Entries = append(rq.Entries, e)
		rq.Bytes += len(e.Data)
		return true
	})
	if !ok {
		return 0, api.NewError(api.ErrCodeInternal, "placement overran counted requests").
			WithContext("requests", len(reqs))
	}
	used := cur.req + 1
	if cur.entries == 0 && used > 1 {
		used--
	}
	return used, nil
}

// Link chains reqs[:n] in order and marks all but the last as batched.
// The returned head is nil only when n is zero.
func Link(reqs []api.Request, n int) *api.Request {
	if n <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		reqs[i].MoreInBatch = i < n-1
		if i < n-1 {
			reqs[i].Next = &reqs[i+1]
		} else {
			reqs[i].Next = nil
		}
	}
	return &reqs[0]
}
