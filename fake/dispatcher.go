// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-xmsgr/api"
)

// Dispatcher records every upstream notification.
type Dispatcher struct {
	mu        sync.Mutex
	local     []api.Message
	connects  []api.Connection
	resets    []api.Connection
	teardowns []api.Connection
	errs      []error
	inbound   []api.InboundMessage
	onInbound func(api.Connection, api.InboundMessage)
}

var _ api.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher returns an empty recorder.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// OnInbound installs a hook run after each inbound message is recorded.
func (d *Dispatcher) OnInbound(fn func(api.Connection, api.InboundMessage)) {
	d.mu.Lock()
	d.onInbound = fn
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(m api.Message) {
	d.mu.Lock()
	d.local = append(d.local, m)
	d.mu.Unlock()
}

func (d *Dispatcher) HandleConnect(c api.Connection) {
	d.mu.Lock()
	d.connects = append(d.connects, c)
	d.mu.Unlock()
}

func (d *Dispatcher) HandleReset(c api.Connection) {
	d.mu.Lock()
	d.resets = append(d.resets, c)
	d.mu.Unlock()
}

func (d *Dispatcher) HandleTeardown(c api.Connection) {
	d.mu.Lock()
	d.teardowns = append(d.teardowns, c)
	d.mu.Unlock()
}

func (d *Dispatcher) HandleError(_ api.Connection, _ api.Message, err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *Dispatcher) HandleInbound(c api.Connection, in api.InboundMessage) {
	d.mu.Lock()
	d.inbound = append(d.inbound, in)
	fn := d.onInbound
	d.mu.Unlock()
	if fn != nil {
		fn(c, in)
	}
}

// Local returns messages dispatched through the loopback path.
func (d *Dispatcher) Local() []api.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Message(nil), d.local...)
}

// Connects returns connections reported established.
func (d *Dispatcher) Connects() []api.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Connection(nil), d.connects...)
}

// Resets returns connections reported reset.
func (d *Dispatcher) Resets() []api.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Connection(nil), d.resets...)
}

// Teardowns returns connections reported torn down.
func (d *Dispatcher) Teardowns() []api.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Connection(nil), d.teardowns...)
}

// Errors returns the send errors reported.
func (d *Dispatcher) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

// Inbound returns the received messages.
func (d *Dispatcher) Inbound() []api.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.InboundMessage(nil), d.inbound...)
}
