// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

// ConnState enumerates the lifecycle state of a transport connection.
type ConnState int32

const (
	StateResolving ConnState = iota
	StateActive
	StateDisconnecting
	StateTornDown
)

func (s ConnState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Role tells which side opened a connection.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
	RoleLoopback
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleAcceptor:
		return "acceptor"
	case RoleLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Token is the typed per-connection context handed to the transport.
// The zero token never refers to a connection.
type Token uint64

// Magic bits carried by outbound messages.
const (
	MagicTraceXcon uint32 = 1 << 0
	MagicTraceXio  uint32 = 1 << 1
	MagicTraceHdr  uint32 = 1 << 2
)

// Connection is the upstream view of a peer-facing connection.
type Connection interface {
	// Peer returns the peer identity, if already known.
	Peer() (EntityAddr, bool)
	Role() Role
	State() ConnState
	Features() uint64
	Token() Token
}
