// File: messenger/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport callbacks. Each callback locates its connection through the
// token table and holds a reference for the duration of the call.

package messenger

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/protocol"
	"github.com/momentics/hioload-xmsgr/transport"
)

// resolve returns the live connection for tok with a reference taken.
func (m *Messenger) resolve(tok api.Token) (*Connection, bool) {
	c, ok := m.handles.Resolve(tok)
	if !ok {
		_, dying := m.handles.Peek(tok)
		m.log.Debug("token does not resolve", zap.Uint64("token", uint64(tok)), zap.Bool("dying", dying))
	}
	return c, ok
}

// OnNewSession accepts every inbound session.
func (m *Messenger) OnNewSession(s api.SessionHandle, req *api.NewSessionRequest) error {
	uri := ""
	if req != nil {
		uri = req.URI
	}
	m.log.Debug("new session", zap.String("session", s.SessionID()), zap.String("uri", uri))
	if m.stopped.Load() {
		return api.ErrMessengerClosed
	}
	return m.tr.Accept(s, req)
}

// OnSessionEvent routes session and connection events.
func (m *Messenger) OnSessionEvent(s api.SessionHandle, ev api.SessionEvent) error {
	m.log.Debug("session event",
		zap.Stringer("event", ev.Kind),
		zap.String("session", s.SessionID()),
		zap.Uint64("token", uint64(ev.Token)),
		zap.Error(ev.Reason))

	switch ev.Kind {
	case api.EventNewConnection:
		return m.accept(s, ev.Conn)

	case api.EventConnectionEstablished:
		c, ok := m.resolve(ev.Token)
		if !ok {
			return nil
		}
		defer c.Unref()
		m.established(c)

	case api.EventConnectionClosed, api.EventConnectionDisconnected, api.EventConnectionRefused:
		c, ok := m.resolve(ev.Token)
		if !ok {
			return nil
		}
		defer c.Unref()
		m.disconnect(c, ev)

	case api.EventConnectionTeardown:
		m.teardown(ev)

	case api.EventSessionTeardown:
		if err := m.tr.DestroySession(s); err != nil {
			m.log.Debug("destroy session", zap.String("session", s.SessionID()), zap.Error(err))
		}

	case api.EventConnectionError, api.EventSessionError, api.EventSessionReject:
		m.log.Warn("transport reported an error",
			zap.Stringer("event", ev.Kind), zap.String("session", s.SessionID()), zap.Error(ev.Reason))

	default:
		m.log.Warn("unknown session event", zap.Int("kind", int(ev.Kind)))
	}
	return nil
}

// accept registers a passive connection. It is reachable by peer lookup
// only after TryIndex.
func (m *Messenger) accept(s api.SessionHandle, h api.ConnHandle) error {
	if h == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "new connection event without a connection")
	}
	attr, err := m.tr.QueryConnection(h)
	if err != nil {
		m.log.Warn("query connection failed", zap.String("session", s.SessionID()), zap.Error(err))
		return err
	}
	c := newConnection(m, api.RoleAcceptor, api.StateResolving)
	if attr.Advertised != nil {
		peer := *attr.Advertised
		if p, err := transport.UnshiftPort(peer.Port, m.cfg.PortShift); err == nil {
			peer.Port = p
		}
		c.setPeer(peer)
		c.transition(api.StateActive)
	}
	c.tok = m.handles.Register(c)
	if err := m.tr.SetConnectionToken(h, c.tok); err != nil {
		m.handles.Delete(c.tok)
		return err
	}
	c.attach(s, h)
	c.member.Store(true)
	m.conns.Append(c)
	m.metrics.Accepted()
	m.metrics.SetConnections(m.conns.Len())
	m.log.Info("connection accepted", append(c.fields(), zap.Stringer("src", attr.SrcAddr))...)
	return nil
}

func (m *Messenger) established(c *Connection) {
	if c.State() == api.StateResolving {
		c.transition(api.StateActive)
	}
	if c.State() != api.StateActive {
		return
	}
	m.log.Info("connection established", c.fields()...)
	m.disp.HandleConnect(c)
}

// disconnect removes c from the registry and drops its sentinel reference.
// Repeated terminal events are no-ops.
func (m *Messenger) disconnect(c *Connection, ev api.SessionEvent) {
	c.transition(api.StateDisconnecting)
	m.conns.Remove(c)
	c.indexed.Store(false)
	if !c.member.CompareAndSwap(true, false) {
		return
	}
	m.log.Info("connection closed", append(c.fields(), zap.Stringer("event", ev.Kind), zap.Error(ev.Reason))...)
	m.metrics.Closed()
	m.metrics.SetConnections(m.conns.Len())
	m.disp.HandleReset(c)
	c.Unref()
}

// teardown releases the transport connection and the reference the
// transport held. The token may be zero or no longer resolve, and the
// connection may never have become active.
func (m *Messenger) teardown(ev api.SessionEvent) {
	destroy := true
	if c, ok := m.resolve(ev.Token); ok {
		destroy = c.transition(api.StateTornDown)
		if destroy {
			if m.conns.Remove(c) {
				m.metrics.SetConnections(m.conns.Len())
			}
			c.indexed.Store(false)
			m.log.Debug("connection torn down", c.fields()...)
			m.disp.HandleTeardown(c)
			c.releaseMember()
			c.detach()
		}
		c.Unref()
	}
	if destroy && ev.Conn != nil {
		if err := m.tr.DestroyConnection(ev.Conn); err != nil {
			m.log.Debug("destroy connection", zap.Uint64("conn", ev.Conn.ConnID()), zap.Error(err))
		}
	}
}

// OnMessage decodes an inbound frame. The first frame on an acceptor
// connection tells the peer's identity.
func (m *Messenger) OnMessage(s api.SessionHandle, tok api.Token, in *api.Request, _ bool) error {
	c, ok := m.resolve(tok)
	if !ok {
		return api.ErrInvalidToken
	}
	defer c.Unref()
	hdr, msg, err := protocol.DecodeInbound(in)
	if err != nil {
		m.log.Warn("bad inbound frame", append(c.fields(), zap.Error(err))...)
		return err
	}
	if m.cfg.TraceConnections || hdr.Magic&api.MagicTraceHdr != 0 {
		m.log.Debug("inbound frame",
			zap.Uint64("token", uint64(tok)),
			zap.Uint16("type", hdr.Type),
			zap.Uint64("seq", hdr.Seq),
			zap.Uint32("requests", hdr.MsgCnt),
			zap.Int("bytes", hdr.PayloadLen()))
	}
	if c.role == api.RoleAcceptor {
		if hdr.Source.Family != api.FamilyUnspec && c.setPeer(hdr.Source) {
			c.transition(api.StateActive)
		}
		if !c.indexed.Load() && !m.TryIndex(c) {
			m.log.Debug("peer already indexed under another connection", c.fields()...)
		}
	}
	m.disp.HandleInbound(c, msg)
	return nil
}

func frameOf(out api.Outbound) (*protocol.Frame, error) {
	f, ok := out.(*protocol.Frame)
	if !ok || f == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "completion for a foreign outbound")
	}
	if f.Released() {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "completion for a released frame")
	}
	return f, nil
}

// OnSendComplete releases the frame.
func (m *Messenger) OnSendComplete(_ api.SessionHandle, _ api.Token, out api.Outbound) error {
	f, err := frameOf(out)
	if err != nil {
		return err
	}
	f.Release()
	return nil
}

// OnMessageDelivered is informational.
func (m *Messenger) OnMessageDelivered(_ api.SessionHandle, tok api.Token, out api.Outbound, more bool) error {
	m.log.Debug("message delivered",
		zap.Uint64("token", uint64(tok)), zap.Int("requests", out.Len()), zap.Bool("more", more))
	return nil
}

// OnMessageError reports the failure upstream and releases the frame.
func (m *Messenger) OnMessageError(_ api.SessionHandle, tok api.Token, status error, out api.Outbound) error {
	f, err := frameOf(out)
	if err != nil {
		return err
	}
	m.log.Warn("send failed", zap.Uint64("token", uint64(tok)), zap.Error(status))
	m.metrics.SendError()
	m.disp.HandleError(f.Conn, f.Msg, status)
	f.Release()
	return nil
}

// OnCancel releases the frame of a cancelled send.
func (m *Messenger) OnCancel(_ api.SessionHandle, tok api.Token, out api.Outbound, result error) error {
	f, err := frameOf(out)
	if err != nil {
		return err
	}
	m.log.Debug("send cancelled", zap.Uint64("token", uint64(tok)), zap.Error(result))
	f.Release()
	return nil
}

// OnCancelRequest acknowledges a cancel request.
func (m *Messenger) OnCancelRequest(_ api.SessionHandle, tok api.Token, _ api.Outbound) error {
	m.log.Debug("cancel requested", zap.Uint64("token", uint64(tok)))
	return nil
}
