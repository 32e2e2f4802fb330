// File: protocol/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed little-endian frame header carried by the first request of a chain.

package protocol

import (
	"encoding/binary"
	"math"
	"net/netip"

	"github.com/momentics/hioload-xmsgr/api"
)

// HeaderVersion is the only header layout understood by DecodeHeader.
const HeaderVersion = 1

// fixed part: version, family, type, msgcnt, magic, features, seq,
// front/middle/data lengths, port, nonce, ip length.
const headerFixedLen = 1 + 1 + 2 + 4 + 4 + 8 + 8 + 4 + 4 + 4 + 2 + 4 + 1

// FrameHeader describes one outbound message on the wire.
type FrameHeader struct {
	MsgCnt    uint32 // requests in the chain
	Type      uint16
	Magic     uint32
	Features  uint64
	Seq       uint64
	FrontLen  uint32
	MiddleLen uint32
	DataLen   uint32
	Source    api.EntityAddr
}

// NewFrameHeader fills the region lengths of a header from r. A region
// longer than a length field can hold is rejected.
func NewFrameHeader(m api.Message, r Regions, features uint64, source api.EntityAddr) (FrameHeader, error) {
	h := FrameHeader{Type: m.Type(), Features: features, Source: source}
	var err error
	if h.FrontLen, err = lenField("front", regionLen(r.Front)); err != nil {
		return FrameHeader{}, err
	}
	if h.MiddleLen, err = lenField("middle", regionLen(r.Middle)); err != nil {
		return FrameHeader{}, err
	}
	if h.DataLen, err = lenField("data", regionLen(r.Data)); err != nil {
		return FrameHeader{}, err
	}
	return h, nil
}

func lenField(region string, n int) (uint32, error) {
	if uint64(n) > math.MaxUint32 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "region too large for frame header").
			WithContext("region", region).WithContext("len", n)
	}
	return uint32(n), nil
}

func ipBytes(a api.EntityAddr) []byte {
	if !a.IP.IsValid() {
		return nil
	}
	return a.IP.AsSlice()
}

// EncodedLen returns the exact encoded size.
func (h *FrameHeader) EncodedLen() int {
	return headerFixedLen + len(ipBytes(h.Source)) + 2 + len(h.Source.Path)
}

// Encode writes the header into buf, which must hold EncodedLen bytes.
func (h *FrameHeader) Encode(buf []byte) (int, error) {
	n := h.EncodedLen()
	if len(buf) < n {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "header buffer too small").
			WithContext("need", n).WithContext("have", len(buf))
	}
	if len(h.Source.Path) > math.MaxUint16 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "source path too long").
			WithContext("len", len(h.Source.Path))
	}
	le := binary.LittleEndian
	ip := ipBytes(h.Source)
	buf[0] = HeaderVersion
	buf[1] = byte(h.Source.Family)
	le.PutUint16(buf[2:], h.Type)
	le.PutUint32(buf[4:], h.MsgCnt)
	le.PutUint32(buf[8:], h.Magic)
	le.PutUint64(buf[12:], h.Features)
	le.PutUint64(buf[20:], h.Seq)
	le.PutUint32(buf[28:], h.FrontLen)
	le.PutUint32(buf[32:], h.MiddleLen)
	le.PutUint32(buf[36:], h.DataLen)
	le.PutUint16(buf[40:], h.Source.Port)
	le.PutUint32(buf[42:], h.Source.Nonce)
	buf[46] = byte(len(ip))
	off := headerFixedLen
	off += copy(buf[off:], ip)
	le.PutUint16(buf[off:], uint16(len(h.Source.Path)))
	off += 2
	off += copy(buf[off:], h.Source.Path)
	return off, nil
}

// DecodeHeader parses a header produced by Encode.
func DecodeHeader(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(buf) < headerFixedLen+2 {
		return h, api.NewError(api.ErrCodeInvalidArgument, "short frame header").
			WithContext("len", len(buf))
	}
	if buf[0] != HeaderVersion {
		return h, api.NewError(api.ErrCodeInvalidArgument, "unknown frame header version").
			WithContext("version", buf[0])
	}
	le := binary.LittleEndian
	h.Source.Family = api.AddrFamily(buf[1])
	h.Type = le.Uint16(buf[2:])
	h.MsgCnt = le.Uint32(buf[4:])
	h.Magic = le.Uint32(buf[8:])
	h.Features = le.Uint64(buf[12:])
	h.Seq = le.Uint64(buf[20:])
	h.FrontLen = le.Uint32(buf[28:])
	h.MiddleLen = le.Uint32(buf[32:])
	h.DataLen = le.Uint32(buf[36:])
	h.Source.Port = le.Uint16(buf[40:])
	h.Source.Nonce = le.Uint32(buf[42:])
	ipLen := int(buf[46])
	off := headerFixedLen
	if ipLen != 0 && ipLen != 4 && ipLen != 16 {
		return h, api.NewError(api.ErrCodeInvalidArgument, "bad source address length").
			WithContext("ip_len", ipLen)
	}
	if len(buf) < off+ipLen+2 {
		return h, api.NewError(api.ErrCodeInvalidArgument, "truncated frame header")
	}
	if ipLen > 0 {
		ip, _ := netip.AddrFromSlice(buf[off : off+ipLen])
		h.Source.IP = ip
	}
	off += ipLen
	pathLen := int(le.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+pathLen {
		return h, api.NewError(api.ErrCodeInvalidArgument, "truncated frame header")
	}
	h.Source.Path = string(buf[off : off+pathLen])
	return h, nil
}

// PayloadLen is the byte count announced for all regions.
func (h *FrameHeader) PayloadLen() int {
	return int(h.FrontLen) + int(h.MiddleLen) + int(h.DataLen)
}
