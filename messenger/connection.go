// File: messenger/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is one peer-facing transport connection. Its lifetime is
// governed by a reference count: registry membership holds one sentinel
// reference, every in-flight callback and every outbound frame holds one
// more. The connection is destroyed when the count reaches zero.

package messenger

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
)

// allowed[from] is a bitmask of the states reachable from from.
var allowed = [...]uint8{
	api.StateResolving:     1<<api.StateActive | 1<<api.StateDisconnecting | 1<<api.StateTornDown,
	api.StateActive:        1<<api.StateDisconnecting | 1<<api.StateTornDown,
	api.StateDisconnecting: 1 << api.StateTornDown,
	api.StateTornDown:      0,
}

// Connection implements api.Connection.
type Connection struct {
	msgr *Messenger
	role api.Role
	tok  api.Token

	state    atomic.Int32
	refs     atomic.Int32
	member   atomic.Bool // sentinel reference still held
	attached atomic.Bool // transport reference still held
	indexed  atomic.Bool
	outSeq   atomic.Uint64
	features uint64

	mu      sync.Mutex
	peer    api.EntityAddr
	known   bool
	session api.SessionHandle
	conn    api.ConnHandle
}

var _ api.Connection = (*Connection)(nil)

func newConnection(m *Messenger, role api.Role, st api.ConnState) *Connection {
	c := &Connection{msgr: m, role: role, features: m.cfg.Features}
	c.state.Store(int32(st))
	c.refs.Store(1)
	return c
}

// Peer returns the peer identity once known.
func (c *Connection) Peer() (api.EntityAddr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer, c.known
}

func (c *Connection) Role() api.Role { return c.role }

func (c *Connection) State() api.ConnState { return api.ConnState(c.state.Load()) }

func (c *Connection) Features() uint64 { return c.features }

func (c *Connection) Token() api.Token { return c.tok }

// Refs returns the current reference count.
func (c *Connection) Refs() int32 { return c.refs.Load() }

// Indexed reports whether the connection is reachable by peer lookup.
func (c *Connection) Indexed() bool { return c.indexed.Load() }

// PeerKey is the registry index key.
func (c *Connection) PeerKey() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		return "", false
	}
	return c.peer.Key(), true
}

// Ref takes a reference. The caller must already hold one.
func (c *Connection) Ref() { c.refs.Add(1) }

// TryRef takes a reference unless the count already dropped to zero.
func (c *Connection) TryRef() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Unref drops a reference and destroys the connection at zero.
func (c *Connection) Unref() {
	switch n := c.refs.Add(-1); {
	case n == 0:
		c.destroy()
	case n < 0:
		c.msgr.log.DPanic("connection reference underflow",
			zap.Uint64("token", uint64(c.tok)), zap.Int32("refs", n))
	}
}

func (c *Connection) destroy() {
	if c.tok != 0 {
		c.msgr.handles.Delete(c.tok)
	}
	c.mu.Lock()
	c.session, c.conn = nil, nil
	c.mu.Unlock()
	c.msgr.log.Debug("connection destroyed",
		zap.Uint64("token", uint64(c.tok)), zap.Stringer("role", c.role))
}

// transition moves the connection to st. Transitions not in the table are
// refused.
func (c *Connection) transition(st api.ConnState) bool {
	for {
		cur := c.state.Load()
		if allowed[cur]&(1<<st) == 0 {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}

// setPeer records the peer identity. It reports false if one was already set.
func (c *Connection) setPeer(a api.EntityAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known {
		return false
	}
	c.peer, c.known = a, true
	return true
}

// attach records the transport handles and takes the reference the
// transport holds until teardown.
func (c *Connection) attach(s api.SessionHandle, h api.ConnHandle) {
	c.mu.Lock()
	c.session, c.conn = s, h
	c.mu.Unlock()
	if c.attached.CompareAndSwap(false, true) {
		c.Ref()
	}
}

func (c *Connection) handles() (api.SessionHandle, api.ConnHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.conn
}

// detach forgets the transport connection and drops the transport
// reference exactly once.
func (c *Connection) detach() bool {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	if !c.attached.CompareAndSwap(true, false) {
		return false
	}
	c.Unref()
	return true
}

// releaseMember drops the sentinel reference exactly once. It reports
// whether this call dropped it.
func (c *Connection) releaseMember() bool {
	if !c.member.CompareAndSwap(true, false) {
		return false
	}
	c.Unref()
	return true
}

func (c *Connection) nextSeq() uint64 { return c.outSeq.Add(1) }

func (c *Connection) fields() []zap.Field {
	fs := []zap.Field{
		zap.Uint64("token", uint64(c.tok)),
		zap.Stringer("role", c.role),
		zap.Stringer("state", c.State()),
	}
	if p, ok := c.Peer(); ok {
		fs = append(fs, zap.Stringer("peer", p))
	}
	return fs
}
