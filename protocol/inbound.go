// File: protocol/inbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"github.com/momentics/hioload-xmsgr/api"
)

// DecodeInbound reassembles a received request chain into its header and
// regions. The region bytes are copied out of the transport buffers.
func DecodeInbound(head *api.Request) (FrameHeader, api.InboundMessage, error) {
	if head == nil {
		return FrameHeader{}, api.InboundMessage{}, api.NewError(api.ErrCodeInvalidArgument, "nil inbound request")
	}
	hdr, err := DecodeHeader(head.Header)
	if err != nil {
		return hdr, api.InboundMessage{}, err
	}
	total := 0
	chained := 0
	for rq := head; rq != nil; rq = rq.Next {
		chained++
		for _, e := range rq.Entries {
			total += len(e.Data)
		}
	}
	if total != hdr.PayloadLen() {
		return hdr, api.InboundMessage{}, api.NewError(api.ErrCodeInvalidArgument, "inbound length mismatch").
			WithContext("announced", hdr.PayloadLen()).
			WithContext("received", total)
	}
	if hdr.MsgCnt != 0 && int(hdr.MsgCnt) != chained {
		return hdr, api.InboundMessage{}, api.NewError(api.ErrCodeInvalidArgument, "inbound request count mismatch").
			WithContext("announced", hdr.MsgCnt).
			WithContext("received", chained)
	}
	buf := make([]byte, 0, total)
	for rq := head; rq != nil; rq = rq.Next {
		for _, e := range rq.Entries {
			buf = append(buf, e.Data...)
		}
	}
	f, m := int(hdr.FrontLen), int(hdr.MiddleLen)
	in := api.InboundMessage{
		Type:     hdr.Type,
		Seq:      hdr.Seq,
		Features: hdr.Features,
		Magic:    hdr.Magic,
		Source:   hdr.Source,
		Front:    buf[:f:f],
		Middle:   buf[f : f+m : f+m],
		Data:     buf[f+m:],
	}
	return hdr, in, nil
}
