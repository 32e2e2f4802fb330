// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake message and dispatcher implementations for testing.

package fake

import (
	"sync"

	"github.com/momentics/hioload-xmsgr/api"
)

// Message is a fake api.Message over caller-provided regions.
type Message struct {
	mu       sync.Mutex
	typ      uint16
	front    []api.Segment
	middle   []api.Segment
	data     []api.Segment
	encodes  int
	features uint64
	seq      uint64
	magic    uint32
	source   api.EntityName
	conn     api.Connection
	encodeFn func(features uint64) error
}

var _ api.Message = (*Message)(nil)

// NewMessage builds a message whose regions hold copies of the given bytes.
func NewMessage(typ uint16, front, middle, data []byte) *Message {
	seg := func(b []byte) []api.Segment {
		if b == nil {
			return nil
		}
		return []api.Segment{{Data: append([]byte(nil), b...)}}
	}
	return &Message{typ: typ, front: seg(front), middle: seg(middle), data: seg(data)}
}

// NewSegmented builds a message from explicit fragment sequences.
func NewSegmented(typ uint16, front, middle, data []api.Segment) *Message {
	return &Message{typ: typ, front: front, middle: middle, data: data}
}

// FailEncode makes Encode return err.
func (m *Message) FailEncode(err error) {
	m.mu.Lock()
	m.encodeFn = func(uint64) error { return err }
	m.mu.Unlock()
}

func (m *Message) Type() uint16 { return m.typ }

func (m *Message) Encode(features uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.encodeFn != nil {
		return m.encodeFn(features)
	}
	m.encodes++
	m.features = features
	return nil
}

func (m *Message) Front() []api.Segment  { return m.front }
func (m *Message) Middle() []api.Segment { return m.middle }
func (m *Message) Data() []api.Segment   { return m.data }

func (m *Message) SetSeq(seq uint64) {
	m.mu.Lock()
	m.seq = seq
	m.mu.Unlock()
}

func (m *Message) SetMagic(magic uint32) {
	m.mu.Lock()
	m.magic = magic
	m.mu.Unlock()
}

func (m *Message) SetSource(n api.EntityName) {
	m.mu.Lock()
	m.source = n
	m.mu.Unlock()
}

func (m *Message) SetConnection(c api.Connection) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

// Seq returns the last sequence number set.
func (m *Message) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Magic returns the last magic set.
func (m *Message) Magic() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.magic
}

// Source returns the last source name set.
func (m *Message) Source() api.EntityName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Connection returns the last connection set.
func (m *Message) Connection() api.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Encodes counts successful Encode calls.
func (m *Message) Encodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encodes
}
