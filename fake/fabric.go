// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory transport fabric. Transports created from one Fabric reach
// each other by bound address; events are delivered on each transport's
// own loop goroutine, never on the caller's.

package fake

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/internal/logging"
)

// Fabric joins fake transports.
type Fabric struct {
	mu        sync.Mutex
	listeners map[netip.AddrPort]*Transport
	nextConn  atomic.Uint64
	nextPort  atomic.Uint32
	log       *zap.Logger
}

// NewFabric returns an empty fabric. l may be nil.
func NewFabric(l *zap.Logger) *Fabric {
	f := &Fabric{
		listeners: make(map[netip.AddrPort]*Transport),
		log:       logging.Named(l, "fake"),
	}
	f.nextPort.Store(40000)
	return f
}

func (f *Fabric) listen(ap netip.AddrPort, t *Transport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.listeners[ap]; ok && cur != t {
		return api.NewError(api.ErrCodeAlreadyExists, "address in use").WithContext("addr", ap.String())
	}
	f.listeners[ap] = t
	return nil
}

// lookup resolves ap exactly, then through a wildcard listener on its port.
func (f *Fabric) lookup(ap netip.AddrPort) (*Transport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.listeners[ap]; ok {
		return t, true
	}
	wild := netip.IPv4Unspecified()
	if ap.Addr().Is6() {
		wild = netip.IPv6Unspecified()
	}
	t, ok := f.listeners[netip.AddrPortFrom(wild, ap.Port())]
	return t, ok
}

func (f *Fabric) unlisten(t *Transport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ap, cur := range f.listeners {
		if cur == t {
			delete(f.listeners, ap)
		}
	}
}

func (f *Fabric) ephemeral() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(f.nextPort.Add(1)))
}
