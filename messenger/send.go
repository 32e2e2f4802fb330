// File: messenger/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package messenger

import (
	"errors"

	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/protocol"
)

// SendMessage sends msg to dest, connecting on first use. Messages to the
// messenger's own address are dispatched locally.
func (m *Messenger) SendMessage(msg api.Message, dest api.EntityAddr) error {
	c, err := m.GetConnection(dest)
	if err != nil {
		return err
	}
	defer c.Unref()
	return m.SendMessageConn(msg, c)
}

// SendMessageConn sends msg over c. The outcome of an accepted send is
// reported through the transport completion callbacks.
func (m *Messenger) SendMessageConn(msg api.Message, c *Connection) error {
	if m.stopped.Load() {
		return api.ErrMessengerClosed
	}
	if c.role == api.RoleLoopback {
		m.sendLoopback(msg)
		return nil
	}
	if st := c.State(); st != api.StateActive {
		return api.NewError(api.ErrCodeNotConnected, "connection is not active").
			WithContext("state", st.String()).
			WithContext("token", uint64(c.tok))
	}
	_, h := c.handles()
	if h == nil {
		return api.NewError(api.ErrCodeNotConnected, "connection has no transport handle").
			WithContext("token", uint64(c.tok))
	}

	if err := msg.Encode(c.Features()); err != nil {
		return err
	}
	var magic uint32
	if m.cfg.TraceConnections {
		magic = api.MagicTraceXcon | api.MagicTraceHdr
	}
	seq := c.nextSeq()
	msg.SetSeq(seq)
	msg.SetMagic(magic)
	msg.SetConnection(c)

	r := protocol.RegionsOf(msg)
	hdr, err := protocol.NewFrameHeader(msg, r, c.Features(), m.MyAddr())
	if err != nil {
		return err
	}
	hdr.Seq = seq
	hdr.Magic = magic

	f, err := m.frames.Build(msg, hdr, r)
	if err != nil {
		if errors.Is(err, api.ErrResourceExhausted) {
			m.metrics.AllocFailure()
			m.log.Warn("frame allocation failed", append(c.fields(), zap.Error(err))...)
		}
		return err
	}
	f.Conn = c
	c.Ref()
	f.OnRelease(func(*protocol.Frame) { c.Unref() })

	requests, total := f.Len(), f.TotalBytes()
	if magic&api.MagicTraceHdr != 0 {
		m.log.Debug("outbound frame",
			zap.Uint64("token", uint64(c.tok)),
			zap.Uint16("type", hdr.Type),
			zap.Uint64("seq", seq),
			zap.Int("requests", requests),
			zap.Int("header", len(f.HeaderBytes())),
			zap.Int("bytes", total))
	}
	if err := m.tr.Enqueue(h, f); err != nil {
		f.Release()
		m.metrics.SendError()
		m.log.Warn("enqueue failed", append(c.fields(), zap.Error(err))...)
		return err
	}
	m.metrics.FrameSent(requests, total)
	return nil
}

// sendLoopback hands msg straight to the local dispatcher.
func (m *Messenger) sendLoopback(msg api.Message) {
	msg.SetSource(m.name)
	msg.SetConnection(m.loop)
	m.disp.Dispatch(msg)
}
