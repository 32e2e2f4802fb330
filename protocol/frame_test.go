package protocol

import (
	"math"
	"net/netip"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/pool"
)

type stubMsg struct {
	front, middle, data []api.Segment
}

func (m *stubMsg) Type() uint16                 { return 7 }
func (m *stubMsg) Encode(uint64) error          { return nil }
func (m *stubMsg) Front() []api.Segment         { return m.front }
func (m *stubMsg) Middle() []api.Segment        { return m.middle }
func (m *stubMsg) Data() []api.Segment          { return m.data }
func (m *stubMsg) SetSeq(uint64)                {}
func (m *stubMsg) SetMagic(uint32)              {}
func (m *stubMsg) SetSource(api.EntityName)     {}
func (m *stubMsg) SetConnection(api.Connection) {}

func source() api.EntityAddr {
	return api.AddrFromAddrPort(netip.MustParseAddrPort("10.0.0.5:6800"), 99)
}

func header(t *testing.T, msg api.Message, r Regions, features uint64) FrameHeader {
	t.Helper()
	h, err := NewFrameHeader(msg, r, features, source())
	require.NoError(t, err)
	return h
}

func newAllocator(t *testing.T, specs []pool.ClassSpec, lim Limits) (*FrameAllocator, *pool.FramePool) {
	t.Helper()
	fp, err := pool.NewFramePool(specs)
	require.NoError(t, err)
	a, err := NewFrameAllocator(fp, lim)
	require.NoError(t, err)
	return a, fp
}

func TestHeaderRoundTrip(t *testing.T) {
	cases := []api.EntityAddr{
		source(),
		api.AddrFromAddrPort(netip.MustParseAddrPort("[fe80::1]:7000"), 1),
		{Family: api.FamilyUnix, Path: "/run/xmsgr.sock", Nonce: 3},
		{},
	}
	for _, src := range cases {
		h := FrameHeader{
			MsgCnt: 3, Type: 12, Magic: api.MagicTraceHdr, Features: 0xfeed,
			Seq: 1 << 40, FrontLen: 64, MiddleLen: 0, DataLen: 3_000_000, Source: src,
		}
		buf := make([]byte, h.EncodedLen())
		n, err := h.Encode(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)

		got, err := DecodeHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got, src.String())
		assert.Equal(t, 3_000_064, got.PayloadLen())
	}
}

func TestHeaderRejectsMalformed(t *testing.T) {
	h := FrameHeader{Source: source()}
	buf := make([]byte, h.EncodedLen())
	_, err := h.Encode(buf)
	require.NoError(t, err)

	_, err = h.Encode(buf[:5])
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = DecodeHeader(buf[:10])
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = DecodeHeader(buf[:len(buf)-3])
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	bad := append([]byte(nil), buf...)
	bad[0] = 9
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	bad = append([]byte(nil), buf...)
	bad[46] = 5
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestBuildFrame(t *testing.T) {
	a, fp := newAllocator(t, nil, DefaultLimits())
	msg := &stubMsg{front: segs(64), data: segs(3_000_000)}
	r := RegionsOf(msg)

	f, err := a.Build(msg, header(t, msg, r, 0x1), r)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3_000_064, f.TotalBytes())
	assert.Same(t, msg, f.Msg)
	assert.EqualValues(t, 3, f.Header.MsgCnt)

	head := f.Head()
	require.NotNil(t, head)
	assert.Equal(t, f.HeaderBytes(), head.Header)
	assert.Nil(t, head.Next.Header, "only the first request carries the header")

	hdr, err := DecodeHeader(head.Header)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hdr.MsgCnt)
	assert.EqualValues(t, 7, hdr.Type)
	assert.EqualValues(t, 3_000_000, hdr.DataLen)
	assert.Equal(t, source(), hdr.Source)

	assert.EqualValues(t, 1, fp.Stats().InUse)
	f.Release()
	assert.EqualValues(t, 0, fp.Stats().InUse)
}

func TestFrameReleaseIdempotent(t *testing.T) {
	a, fp := newAllocator(t, nil, DefaultLimits())
	msg := &stubMsg{data: segs(10)}
	r := RegionsOf(msg)
	f, err := a.Build(msg, header(t, msg, r, 0), r)
	require.NoError(t, err)

	calls := 0
	f.OnRelease(func(*Frame) { calls++ })
	f.Release()
	f.Release()
	assert.True(t, f.Released())
	assert.Equal(t, 1, calls)
	st := fp.Stats()
	assert.EqualValues(t, 1, st.TotalFree)
	assert.EqualValues(t, 0, st.InUse)
}

func TestBuildReportsExhaustion(t *testing.T) {
	a, _ := newAllocator(t, []pool.ClassSpec{{Size: 128, Prealloc: 1, Max: 1}}, DefaultLimits())
	msg := &stubMsg{data: segs(10)}
	r := RegionsOf(msg)
	hdr := header(t, msg, r, 0)

	first, err := a.Build(msg, hdr, r)
	require.NoError(t, err)

	_, err = a.Build(msg, hdr, r)
	assert.ErrorIs(t, err, api.ErrResourceExhausted)

	first.Release()
	again, err := a.Build(msg, hdr, r)
	require.NoError(t, err)
	again.Release()
}

func TestBuildEmptyMessage(t *testing.T) {
	a, _ := newAllocator(t, nil, DefaultLimits())
	msg := &stubMsg{}
	r := RegionsOf(msg)
	f, err := a.Build(msg, header(t, msg, r, 0), r)
	require.NoError(t, err)
	defer f.Release()
	assert.Equal(t, 1, f.Len())
	assert.Empty(t, f.Head().Entries)
	assert.NotEmpty(t, f.Head().Header)
}

func TestDecodeInbound(t *testing.T) {
	a, _ := newAllocator(t, nil, Limits{MaxEntries: 2, MaxBytes: 100})
	msg := &stubMsg{front: segs(30), middle: segs(5, 5), data: segs(250)}
	r := RegionsOf(msg)
	hdr := header(t, msg, r, 0x3)
	hdr.Seq = 17
	f, err := a.Build(msg, hdr, r)
	require.NoError(t, err)
	defer f.Release()

	got, in, err := DecodeInbound(f.Head())
	require.NoError(t, err)
	assert.EqualValues(t, f.Len(), got.MsgCnt)
	assert.EqualValues(t, 17, in.Seq)
	assert.EqualValues(t, 0x3, in.Features)
	assert.Equal(t, msg.front[0].Data, in.Front)
	assert.Equal(t, append(append([]byte{}, msg.middle[0].Data...), msg.middle[1].Data...), in.Middle)
	assert.Equal(t, msg.data[0].Data, in.Data)
	assert.Equal(t, source(), in.Source)
}

func TestDecodeInboundRejectsMismatch(t *testing.T) {
	_, _, err := DecodeInbound(nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	a, _ := newAllocator(t, nil, DefaultLimits())
	msg := &stubMsg{data: segs(40)}
	r := RegionsOf(msg)
	f, err := a.Build(msg, header(t, msg, r, 0), r)
	require.NoError(t, err)
	defer f.Release()

	short := *f.Head()
	short.Entries = []api.Entry{{Data: short.Entries[0].Data[:10]}}
	_, _, err = DecodeInbound(&short)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	extra := *f.Head()
	extra.Entries = nil
	extra.Next = &api.Request{Entries: f.Head().Entries}
	_, _, err = DecodeInbound(&extra)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestHeaderRejectsOversizedLengths(t *testing.T) {
	var big uint64 = math.MaxUint32 + 1
	if strconv.IntSize < 64 {
		t.Skip("region lengths cannot exceed 32 bits here")
	}
	_, err := lenField("data", int(big))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	n, err := lenField("data", int(big-1))
	require.NoError(t, err)
	assert.EqualValues(t, uint32(math.MaxUint32), n)

	h := FrameHeader{Source: api.EntityAddr{Family: api.FamilyUnix, Path: strings.Repeat("p", math.MaxUint16+1)}}
	_, err = h.Encode(make([]byte, h.EncodedLen()))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	a, fp := newAllocator(t, []pool.ClassSpec{{Size: 1 << 17, Prealloc: 1, Max: 1}}, DefaultLimits())
	msg := &stubMsg{data: segs(8)}
	r := RegionsOf(msg)
	hdr := header(t, msg, r, 0)
	hdr.Source = h.Source
	_, err = a.Build(msg, hdr, r)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Zero(t, fp.Stats().InUse, "header block is returned on encode failure")
}
