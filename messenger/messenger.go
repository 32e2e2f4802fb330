// File: messenger/messenger.go
// Package messenger adapts a session/connection transport to a
// connection-oriented message layer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Messenger owns the connection registry and the token table, builds
// outbound frames from the shared runtime pool and implements
// api.SessionHandler for the transport it is attached to.

package messenger

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/config"
	"github.com/momentics/hioload-xmsgr/control"
	"github.com/momentics/hioload-xmsgr/internal/handle"
	"github.com/momentics/hioload-xmsgr/internal/logging"
	"github.com/momentics/hioload-xmsgr/internal/registry"
	"github.com/momentics/hioload-xmsgr/protocol"
	"github.com/momentics/hioload-xmsgr/transport"
)

// Option customizes a Messenger.
type Option func(*Messenger)

// WithLogger sets the parent logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Messenger) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(mt *control.Metrics) Option {
	return func(m *Messenger) { m.metrics = mt }
}

// WithName sets the entity name stamped on loopback messages.
func WithName(n api.EntityName) Option {
	return func(m *Messenger) { m.name = n }
}

// WithNonce sets the address nonce distinguishing messenger incarnations.
func WithNonce(nonce uint32) Option {
	return func(m *Messenger) { m.nonce = nonce }
}

// Messenger is safe for concurrent use.
type Messenger struct {
	cfg     *config.Config
	log     *zap.Logger
	tr      api.Transport
	disp    api.Dispatcher
	metrics *control.Metrics
	probes  *control.DebugProbes

	rt      *Runtime
	frames  *protocol.FrameAllocator
	conns   *registry.Registry[*Connection]
	handles *handle.Table[*Connection]
	loop    *Connection

	name  api.EntityName
	nonce uint32

	mu    sync.RWMutex // guards addr and bound
	addr  api.EntityAddr
	bound bool

	started      atomic.Bool
	stopped      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

var (
	_ api.SessionHandler   = (*Messenger)(nil)
	_ api.GracefulShutdown = (*Messenger)(nil)
)

// New attaches a messenger to tr. A nil cfg means config.Default().
func New(cfg *config.Config, tr api.Transport, d api.Dispatcher, opts ...Option) (*Messenger, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil || d == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "messenger requires a transport and a dispatcher")
	}
	m := &Messenger{
		cfg:     cfg,
		log:     zap.NewNop(),
		tr:      tr,
		disp:    d,
		probes:  control.NewDebugProbes(),
		conns:   registry.New[*Connection](),
		handles: handle.NewTable[*Connection](16),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.Named(m.log, "messenger")

	if err := tr.Configure(cfg.TransportOptions()); err != nil {
		return nil, err
	}
	rt, err := acquireRuntime(cfg)
	if err != nil {
		return nil, err
	}
	frames, err := protocol.NewFrameAllocator(rt.Pool(), cfg.Limits())
	if err != nil {
		rt.leave()
		return nil, err
	}
	m.rt, m.frames = rt, frames
	m.loop = newConnection(m, api.RoleLoopback, api.StateActive)
	m.registerProbes()
	m.log.Debug("messenger created",
		zap.Int("max_entries", cfg.MaxEntriesPerRequest),
		zap.Int("max_bytes", cfg.MaxBytesPerRequest),
		zap.Int64("instances", Instances()))
	return m, nil
}

func (m *Messenger) registerProbes() {
	m.probes.RegisterProbe("registry.connections", func() any { return m.conns.Len() })
	m.probes.RegisterProbe("registry.indexed", func() any { return m.conns.IndexLen() })
	m.probes.RegisterProbe("handles", func() any { return m.handles.Len() })
	m.probes.RegisterProbe("pool", func() any { return m.rt.Pool().Stats() })
	m.probes.RegisterProbe("runtime.instances", func() any { return Instances() })
	m.probes.RegisterProbe("addr", func() any { return m.MyAddr().String() })
	control.RegisterPlatformProbes(m.probes)
}

// Config returns the messenger configuration.
func (m *Messenger) Config() *config.Config { return m.cfg }

// Nonce returns the address nonce.
func (m *Messenger) Nonce() uint32 { return m.nonce }

// Name returns the messenger entity name.
func (m *Messenger) Name() api.EntityName { return m.name }

// MyAddr returns the bound address, zero before Bind.
func (m *Messenger) MyAddr() api.EntityAddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addr
}

// Probes exposes the debug probe registry.
func (m *Messenger) Probes() *control.DebugProbes { return m.probes }

// DumpState runs every registered probe.
func (m *Messenger) DumpState() map[string]any { return m.probes.DumpState() }

// Bind listens on addr. A blank host is replaced by the configured rdma
// local address; the transport port is shifted by the configured shift.
func (m *Messenger) Bind(addr api.EntityAddr) error {
	if m.stopped.Load() {
		return api.ErrMessengerClosed
	}
	a, substituted, err := transport.BindAddr(addr, m.cfg.RDMALocal)
	if err != nil {
		return err
	}
	switch {
	case substituted:
		m.log.Info("bind address replaced by rdma local", zap.Stringer("addr", a))
	case a.IsBlankIP():
		m.log.Warn("binding a blank address and no rdma local address is configured",
			zap.Stringer("addr", a))
	}
	port, err := transport.ShiftPort(a.Port, m.cfg.PortShift)
	if err != nil {
		return err
	}
	uri, err := transport.HostURI(a)
	if err != nil {
		return err
	}
	if err := m.tr.Bind(uri, port, m); err != nil {
		return api.NewError(api.ErrCodeConnectionFailed, "transport bind failed").
			WithContext("uri", uri).WithContext("port", port).WithCause(err)
	}
	a.Nonce = m.nonce
	m.mu.Lock()
	m.addr, m.bound = a, true
	m.mu.Unlock()
	m.log.Info("bound", zap.String("uri", uri), zap.Uint16("port", port))
	return nil
}

// Start starts the transport portals.
func (m *Messenger) Start() error {
	if m.stopped.Load() {
		return api.ErrMessengerClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.tr.Start(); err != nil {
		m.started.Store(false)
		return err
	}
	m.log.Debug("messenger started", zap.Strings("probes", m.probes.Names()))
	return nil
}

// Wait blocks until the transport portals exit.
func (m *Messenger) Wait() { m.tr.Wait() }

// Shutdown drops every connection, stops the transport and releases the
// runtime. Later sends fail with api.ErrMessengerClosed. Only the first
// call does work; later calls return its result.
func (m *Messenger) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.stopped.Store(true)
		var errs error
		drained := m.conns.Drain()
		for _, c := range drained {
			c.transition(api.StateDisconnecting)
			c.indexed.Store(false)
			s, h := c.handles()
			if h != nil {
				errs = multierr.Append(errs, m.tr.DestroyConnection(h))
			}
			if s != nil && c.role == api.RoleInitiator {
				errs = multierr.Append(errs, m.tr.DestroySession(s))
			}
			c.releaseMember()
			c.detach()
		}
		m.metrics.SetConnections(0)
		m.handles.Range(func(tok api.Token, c *Connection) {
			m.log.Debug("connection still referenced", zap.Uint64("token", uint64(tok)), zap.Int32("refs", c.Refs()))
		})
		if err := m.tr.Shutdown(); !errors.Is(err, api.ErrTransportClosed) {
			errs = multierr.Append(errs, err)
		}
		m.loop.Unref()
		m.rt.leave()
		m.shutdownErr = errs
		m.log.Info("messenger shut down", zap.Int("connections", len(drained)))
	})
	return m.shutdownErr
}

// Stopped reports whether Shutdown ran.
func (m *Messenger) Stopped() bool { return m.stopped.Load() }

// isLoopback reports whether dest is this messenger's own address.
func (m *Messenger) isLoopback(dest api.EntityAddr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bound && dest.Key() == m.addr.Key()
}

// GetLoopbackConnection returns the loopback connection with a reference
// the caller must drop with Unref.
func (m *Messenger) GetLoopbackConnection() *Connection {
	m.loop.Ref()
	return m.loop
}

// GetConnection returns the connection to dest, creating it if needed. The
// returned connection carries a reference the caller must drop with Unref.
func (m *Messenger) GetConnection(dest api.EntityAddr) (*Connection, error) {
	if m.stopped.Load() {
		return nil, api.ErrMessengerClosed
	}
	if m.isLoopback(dest) {
		return m.GetLoopbackConnection(), nil
	}
	c, created, err := m.conns.LookupOrCreate(dest.Key(), func() (*Connection, error) {
		return m.connect(dest)
	})
	if err != nil {
		return nil, err
	}
	if created {
		m.metrics.Initiated()
		m.metrics.SetConnections(m.conns.Len())
	}
	return c, nil
}

// connect builds an initiator connection. It runs under the registry lock.
func (m *Messenger) connect(dest api.EntityAddr) (*Connection, error) {
	failed := func(msg string, cause error) error {
		return api.NewError(api.ErrCodeConnectionFailed, msg).
			WithContext("peer", dest.String()).WithCause(cause)
	}
	port, err := transport.ShiftPort(dest.Port, m.cfg.PortShift)
	if err != nil {
		return nil, failed("destination port", err)
	}
	uri, err := transport.URI(dest.WithPort(port))
	if err != nil {
		return nil, err
	}

	c := newConnection(m, api.RoleInitiator, api.StateResolving)
	c.setPeer(dest)
	c.tok = m.handles.Register(c)

	s, err := m.tr.CreateSession(uri, m)
	if err != nil {
		m.handles.Delete(c.tok)
		return nil, failed("create session", err)
	}
	h, err := m.tr.Connect(s, c.tok)
	if err != nil {
		if derr := m.tr.DestroySession(s); derr != nil {
			err = multierr.Append(err, derr)
		}
		m.handles.Delete(c.tok)
		return nil, failed("connect", err)
	}
	c.attach(s, h)
	c.transition(api.StateActive)
	c.member.Store(true)
	c.indexed.Store(true)
	m.log.Info("connection initiated", append(c.fields(), zap.String("uri", uri))...)
	return c, nil
}

// TryIndex makes an acceptor connection reachable by peer lookup once its
// identity is known. It reports whether c is the indexed connection for
// its peer.
func (m *Messenger) TryIndex(c *Connection) bool {
	if c.indexed.Load() {
		return true
	}
	if !m.conns.TryIndex(c) {
		return false
	}
	c.indexed.Store(true)
	return true
}

// Connections returns the registered connections in insertion order.
func (m *Messenger) Connections() []*Connection { return m.conns.Snapshot() }

// Lookup returns the indexed connection for peer, with a reference taken.
func (m *Messenger) Lookup(peer api.EntityAddr) (*Connection, bool) {
	return m.conns.Lookup(peer.Key())
}

// PoolHint adds a frame pool size class for size. Sizes above the
// configured maximum are ignored; an existing class is reported as
// api.ErrAlreadyExists.
func (m *Messenger) PoolHint(size int) error {
	if size > m.cfg.PoolHintMax {
		m.log.Debug("pool hint ignored", zap.Int("size", size), zap.Int("max", m.cfg.PoolHintMax))
		return nil
	}
	return m.rt.Pool().AddAllocator(size, m.cfg.PoolPrealloc, m.cfg.PoolMaxPerClass)
}
