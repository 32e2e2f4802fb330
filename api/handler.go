// File: api/handler.go
// Package api defines the upstream message-layer contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Message is an encoded application message exposing its byte regions.
type Message interface {
	Type() uint16
	// Encode prepares the regions for the negotiated feature bits.
	Encode(features uint64) error
	Front() []Segment
	Middle() []Segment
	Data() []Segment

	SetSeq(seq uint64)
	SetMagic(magic uint32)
	SetSource(name EntityName)
	SetConnection(c Connection)
}

// InboundMessage is a received message split back into its regions.
type InboundMessage struct {
	Type     uint16
	Seq      uint64
	Features uint64
	Magic    uint32
	Source   EntityAddr
	Front    []byte
	Middle   []byte
	Data     []byte
}

// Dispatcher is the upstream consumer of messages and connection events.
type Dispatcher interface {
	// Dispatch delivers a locally sent (loopback) message.
	Dispatch(m Message)
	HandleConnect(c Connection)
	HandleReset(c Connection)
	HandleTeardown(c Connection)
	HandleError(c Connection, m Message, err error)
	HandleInbound(c Connection, in InboundMessage)
}
