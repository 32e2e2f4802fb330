// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport boundary.

package fake

import (
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/transport"
)

// Session is a fake transport session.
type Session struct {
	id       string
	uri      string
	h        api.SessionHandler
	accepted bool
}

func (s *Session) SessionID() string { return s.id }

// Conn is a fake transport connection. Its fields are guarded by the
// owning transport's mutex.
type Conn struct {
	id     uint64
	t      *Transport
	sess   *Session
	tok    api.Token
	peer   *Conn
	sendq  *queue.Queue
	src    api.EntityAddr
	adv    *api.EntityAddr
	closed bool
}

func (c *Conn) ConnID() uint64 { return c.id }

// Transport is a fake implementation of api.Transport.
type Transport struct {
	fabric *Fabric
	log    *zap.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	tasks       *queue.Queue // of func()
	opts        api.TransportOptions
	handler     api.SessionHandler
	bindAddr    netip.AddrPort
	bound       bool
	advertise   *api.EntityAddr
	sessions    map[string]*Session
	conns       map[uint64]*Conn
	failSession error
	failEnqueue error
	failSend    error
	started     bool
	closed      bool
	done        chan struct{}

	delivered atomic.Int64
}

var _ api.Transport = (*Transport)(nil)

// NewTransport creates a transport attached to the fabric.
func (f *Fabric) NewTransport() *Transport {
	t := &Transport{
		fabric:   f,
		log:      f.log,
		tasks:    queue.New(),
		sessions: make(map[string]*Session),
		conns:    make(map[uint64]*Conn),
		done:     make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// post queues fn for the loop goroutine. It reports false once the
// transport is closed.
func (t *Transport) post(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.tasks.Add(fn)
	t.cond.Signal()
	return true
}

func (t *Transport) loop() {
	defer close(t.done)
	for {
		t.mu.Lock()
		for t.tasks.Length() == 0 && !t.closed {
			t.cond.Wait()
		}
		if t.tasks.Length() == 0 {
			t.mu.Unlock()
			return
		}
		fn := t.tasks.Remove().(func())
		t.mu.Unlock()
		fn()
	}
}

// Sync waits until every task queued before the call has run.
func (t *Transport) Sync() {
	ch := make(chan struct{})
	if t.post(func() { close(ch) }) {
		<-ch
	}
}

func (t *Transport) Configure(opts api.TransportOptions) error {
	if opts.MaxEntriesPerRequest <= 0 || opts.MaxBytesPerRequest <= 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "transport request limits must be positive")
	}
	t.mu.Lock()
	t.opts = opts
	t.mu.Unlock()
	return nil
}

// Options returns the options passed to Configure.
func (t *Transport) Bind(uri string, port uint16, h api.SessionHandler) error {
	host, err := transport.ParseURI(uri)
	if err != nil {
		return err
	}
	ap := netip.AddrPortFrom(host.Addr(), port)
	if port == 0 {
		ap = netip.AddrPortFrom(host.Addr(), t.fabric.ephemeral().Port())
	}
	if err := t.fabric.listen(ap, t); err != nil {
		return err
	}
	t.mu.Lock()
	t.handler, t.bindAddr, t.bound = h, ap, true
	t.mu.Unlock()
	t.log.Debug("listening", zap.Stringer("addr", ap))
	return nil
}

// Bound returns the listening address.
func (t *Transport) Bound() (netip.AddrPort, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bindAddr, t.bound
}

func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrTransportClosed
	}
	if !t.started {
		t.started = true
		go t.loop()
	}
	return nil
}

func (t *Transport) Wait() { <-t.done }

// Shutdown stops accepting work, runs what is queued and stops the loop.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	t.closed = true
	started := t.started
	t.cond.Broadcast()
	t.mu.Unlock()

	t.fabric.unlisten(t)
	if started {
		<-t.done
	} else {
		close(t.done)
	}
	return nil
}

func (t *Transport) Accept(sh api.SessionHandle, _ *api.NewSessionRequest) error {
	s, ok := sh.(*Session)
	if !ok {
		return api.ErrInvalidArgument
	}
	t.mu.Lock()
	s.accepted = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) CreateSession(uri string, h api.SessionHandler) (api.SessionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, api.ErrTransportClosed
	}
	if err := t.failSession; err != nil {
		t.failSession = nil
		return nil, err
	}
	s := &Session{id: uuid.NewString(), uri: uri, h: h}
	t.sessions[s.id] = s
	return s, nil
}

func (t *Transport) newConnLocked(s *Session, tok api.Token) *Conn {
	c := &Conn{id: t.fabric.nextConn.Add(1), t: t, sess: s, tok: tok, sendq: queue.New()}
	t.conns[c.id] = c
	return c
}

func (t *Transport) source() api.EntityAddr {
	if t.bound {
		return api.AddrFromAddrPort(t.bindAddr, 0)
	}
	return api.AddrFromAddrPort(t.fabric.ephemeral(), 0)
}

// SetAdvertised makes peers of this transport's outbound connections see
// a as the connection's advertised address.
func (t *Transport) SetAdvertised(a api.EntityAddr) {
	t.mu.Lock()
	t.advertise = &a
	t.mu.Unlock()
}

func (t *Transport) Connect(sh api.SessionHandle, tok api.Token) (api.ConnHandle, error) {
	s, ok := sh.(*Session)
	if !ok {
		return nil, api.ErrInvalidArgument
	}
	ap, err := transport.ParseURI(s.uri)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, api.ErrTransportClosed
	}
	if _, ok := t.sessions[s.id]; !ok {
		t.mu.Unlock()
		return nil, api.NewError(api.ErrCodeNotFound, "unknown session")
	}
	c := t.newConnLocked(s, tok)
	c.src = t.source()
	var adv *api.EntityAddr
	if t.advertise != nil {
		a := *t.advertise
		adv = &a
	}
	t.mu.Unlock()

	remote, ok := t.fabric.lookup(ap)
	if !ok || !remote.post(func() { remote.inbound(c, s.uri, adv) }) {
		t.post(func() { t.refuse(c) })
	}
	return c, nil
}

// inbound runs on the listener's loop.
func (t *Transport) inbound(ic *Conn, uri string, adv *api.EntityAddr) {
	t.mu.Lock()
	h := t.handler
	if h == nil {
		t.mu.Unlock()
		ic.t.post(func() { ic.t.refuse(ic) })
		return
	}
	as := &Session{id: uuid.NewString(), uri: uri, h: h}
	t.sessions[as.id] = as
	ac := t.newConnLocked(as, 0)
	ac.peer, ac.src, ac.adv = ic, ic.src, adv
	t.mu.Unlock()

	req := &api.NewSessionRequest{URI: uri}
	err := h.OnNewSession(as, req)
	t.mu.Lock()
	accepted := as.accepted
	t.mu.Unlock()
	if err != nil || !accepted {
		t.log.Debug("session rejected", zap.String("session", as.id), zap.Error(err))
		t.mu.Lock()
		delete(t.sessions, as.id)
		delete(t.conns, ac.id)
		t.mu.Unlock()
		_ = h.OnSessionEvent(as, api.SessionEvent{Kind: api.EventSessionReject, Reason: err})
		ic.t.post(func() { ic.t.refuse(ic) })
		return
	}
	if err := h.OnSessionEvent(as, api.SessionEvent{Kind: api.EventNewConnection, Conn: ac}); err != nil {
		t.log.Warn("new connection failed", zap.Error(err))
	}

	ic.t.mu.Lock()
	ic.peer = ac
	gone := ic.closed
	ic.t.mu.Unlock()

	// The initiator dropped before the link: the acceptor only sees a close.
	if gone {
		t.mu.Lock()
		ac.closed = true
		t.mu.Unlock()
		t.terminate(ac, api.EventConnectionClosed, nil)
		return
	}

	_ = h.OnSessionEvent(as, api.SessionEvent{Kind: api.EventConnectionEstablished, Conn: ac, Token: t.token(ac)})
	ic.t.post(func() {
		ic.t.mu.Lock()
		closed := ic.closed
		ic.t.mu.Unlock()
		if closed {
			return
		}
		_ = ic.sess.h.OnSessionEvent(ic.sess, api.SessionEvent{
			Kind: api.EventConnectionEstablished, Conn: ic, Token: ic.t.token(ic),
		})
		ic.t.flush(ic)
	})
}

func (t *Transport) token(c *Conn) api.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return c.tok
}

// refuse runs on the initiator's loop.
func (t *Transport) refuse(c *Conn) {
	t.mu.Lock()
	c.closed = true
	t.mu.Unlock()
	t.terminate(c, api.EventConnectionRefused, api.ErrConnectionFailed)
}

// terminate fails the frames still queued on c and reports its end.
func (t *Transport) terminate(c *Conn, kind api.SessionEventKind, reason error) {
	t.flush(c)
	tok := t.token(c)
	h := c.sess.h
	_ = h.OnSessionEvent(c.sess, api.SessionEvent{Kind: kind, Reason: reason, Conn: c, Token: tok})
	_ = h.OnSessionEvent(c.sess, api.SessionEvent{Kind: api.EventConnectionTeardown, Conn: c, Token: tok})
	_ = h.OnSessionEvent(c.sess, api.SessionEvent{Kind: api.EventSessionTeardown})
}

func (t *Transport) QueryConnection(ch api.ConnHandle) (api.ConnectionAttr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[ch.ConnID()]
	if !ok {
		return api.ConnectionAttr{}, api.NewError(api.ErrCodeNotFound, "unknown connection")
	}
	return api.ConnectionAttr{SrcAddr: c.src, Advertised: c.adv, Token: c.tok}, nil
}

func (t *Transport) SetConnectionToken(ch api.ConnHandle, tok api.Token) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[ch.ConnID()]
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "unknown connection")
	}
	c.tok = tok
	return nil
}

func (t *Transport) Enqueue(ch api.ConnHandle, out api.Outbound) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	c, ok := t.conns[ch.ConnID()]
	if !ok || c.closed {
		t.mu.Unlock()
		return api.ErrNotConnected
	}
	if err := t.failEnqueue; err != nil {
		t.failEnqueue = nil
		t.mu.Unlock()
		return err
	}
	if err := checkLimits(out, t.opts); err != nil {
		t.mu.Unlock()
		return err
	}
	c.sendq.Add(out)
	t.mu.Unlock()
	t.post(func() { t.flush(c) })
	return nil
}

// checkLimits rejects chains whose requests exceed the configured bounds.
// An unconfigured transport accepts any chain.
func checkLimits(out api.Outbound, o api.TransportOptions) error {
	if o.MaxEntriesPerRequest <= 0 {
		return nil
	}
	for rq := out.Head(); rq != nil; rq = rq.Next {
		if len(rq.Entries) > o.MaxEntriesPerRequest || rq.Bytes > o.MaxBytesPerRequest {
			return api.NewError(api.ErrCodeInvalidArgument, "request exceeds transport limits").
				WithContext("entries", len(rq.Entries)).
				WithContext("bytes", rq.Bytes)
		}
	}
	return nil
}

// flush drains c's send queue: each frame is copied to the peer and then
// completed at the sender. Frames queued before the connection is linked
// wait for the link.
func (t *Transport) flush(c *Conn) {
	t.mu.Lock()
	if c.peer == nil && !c.closed {
		t.mu.Unlock()
		return
	}
	outs := make([]api.Outbound, 0, c.sendq.Length())
	for c.sendq.Length() > 0 {
		outs = append(outs, c.sendq.Remove().(api.Outbound))
	}
	peer, tok, h := c.peer, c.tok, c.sess.h
	failSend := t.failSend
	if len(outs) > 0 {
		t.failSend = nil
	}
	t.mu.Unlock()

	for i, out := range outs {
		if i == 0 && failSend != nil {
			_ = h.OnMessageError(c.sess, tok, failSend, out)
			continue
		}
		if peer == nil || !peer.t.deliver(peer, copyChain(out.Head())) {
			_ = h.OnMessageError(c.sess, tok, api.ErrNotConnected, out)
			continue
		}
		t.delivered.Add(1)
		_ = h.OnMessageDelivered(c.sess, tok, out, false)
		_ = h.OnSendComplete(c.sess, tok, out)
	}
}

func (t *Transport) deliver(c *Conn, in *api.Request) bool {
	t.mu.Lock()
	if c.closed {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()
	return t.post(func() {
		tok := t.token(c)
		if err := c.sess.h.OnMessage(c.sess, tok, in, false); err != nil {
			t.log.Debug("inbound message rejected", zap.Uint64("conn", c.id), zap.Error(err))
		}
	})
}

// copyChain deep-copies a request chain into fresh buffers.
func copyChain(head *api.Request) *api.Request {
	var first, prev *api.Request
	for rq := head; rq != nil; rq = rq.Next {
		cp := &api.Request{
			Header:      append([]byte(nil), rq.Header...),
			Entries:     make([]api.Entry, len(rq.Entries)),
			Bytes:       rq.Bytes,
			MoreInBatch: rq.MoreInBatch,
		}
		for i, e := range rq.Entries {
			cp.Entries[i] = api.Entry{Data: append([]byte(nil), e.Data...)}
		}
		if prev == nil {
			first = cp
		} else {
			prev.Next = cp
		}
		prev = cp
	}
	return first
}

// DestroyConnection forgets the connection. Unknown connections are ignored.
func (t *Transport) DestroyConnection(ch api.ConnHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[ch.ConnID()]; ok {
		c.closed = true
		delete(t.conns, c.id)
	}
	return nil
}

// DestroySession forgets the session. Unknown sessions are ignored.
func (t *Transport) DestroySession(sh api.SessionHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sh.SessionID())
	return nil
}

// Disconnect drops the connection. The local side sees a disconnect, the
// remote side a close; both are followed by teardown events.
func (t *Transport) Disconnect(ch api.ConnHandle, reason error) error {
	t.mu.Lock()
	c, ok := t.conns[ch.ConnID()]
	if !ok || c.closed {
		t.mu.Unlock()
		return api.ErrNotConnected
	}
	c.closed = true
	peer := c.peer
	t.mu.Unlock()

	t.post(func() { t.terminate(c, api.EventConnectionDisconnected, reason) })
	if peer != nil {
		pt := peer.t
		pt.mu.Lock()
		wasOpen := !peer.closed
		peer.closed = true
		pt.mu.Unlock()
		if wasOpen {
			pt.post(func() { pt.terminate(peer, api.EventConnectionClosed, nil) })
		}
	}
	return nil
}

// InjectEvent delivers ev to the bound handler on the loop goroutine,
// under a session of its own.
func (t *Transport) InjectEvent(ev api.SessionEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return
	}
	s := &Session{id: uuid.NewString(), h: h}
	t.post(func() { _ = h.OnSessionEvent(s, ev) })
}

// FailNextSession makes the next CreateSession return err.
func (t *Transport) FailNextSession(err error) {
	t.mu.Lock()
	t.failSession = err
	t.mu.Unlock()
}

// FailEnqueue makes the next Enqueue return err.
func (t *Transport) FailEnqueue(err error) {
	t.mu.Lock()
	t.failEnqueue = err
	t.mu.Unlock()
}

// FailSend makes the next flushed frame complete with status err.
func (t *Transport) FailSend(err error) {
	t.mu.Lock()
	t.failSend = err
	t.mu.Unlock()
}

// Delivered counts frames handed to a peer.
func (t *Transport) Delivered() int64 { return t.delivered.Load() }

// Conns returns the live connections ordered by id.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Sessions counts the live sessions.
func (t *Transport) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
