// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the session/connection transport abstraction the messenger is
// layered on, and the callback surface the transport drives.

package api

// SessionHandle is an opaque transport session.
type SessionHandle interface {
	SessionID() string
}

// ConnHandle is an opaque transport connection.
type ConnHandle interface {
	ConnID() uint64
}

// NewSessionRequest describes an inbound session request.
type NewSessionRequest struct {
	URI         string
	PrivateData []byte
}

// ConnectionAttr is the result of a connection query.
type ConnectionAttr struct {
	// SrcAddr is the transport-level source address of the peer.
	SrcAddr EntityAddr
	// Advertised is set when the transport already knows the peer's
	// logical messenger address.
	Advertised *EntityAddr
	Portal     int
	Token      Token
}

// TransportOptions are applied once when a messenger attaches to a transport.
type TransportOptions struct {
	MaxEntriesPerRequest int
	MaxBytesPerRequest   int
	NumPortals           int
	DisableHugePages     bool
	Trace                bool
}

// Transport is the event-driven transport runtime.
//
// CreateSession and Connect must never invoke SessionHandler callbacks on
// the calling goroutine; events are delivered from the transport's own
// polling threads.
type Transport interface {
	Configure(opts TransportOptions) error

	// Bind starts listening on uri:port; sessions arriving there are
	// reported to h.
	Bind(uri string, port uint16, h SessionHandler) error
	Start() error
	Wait()
	Shutdown() error

	Accept(s SessionHandle, req *NewSessionRequest) error
	CreateSession(uri string, h SessionHandler) (SessionHandle, error)
	Connect(s SessionHandle, tok Token) (ConnHandle, error)
	QueryConnection(c ConnHandle) (ConnectionAttr, error)
	SetConnectionToken(c ConnHandle, tok Token) error

	// Enqueue hands a linked request chain to the connection's send queue.
	Enqueue(c ConnHandle, out Outbound) error

	DestroyConnection(c ConnHandle) error
	DestroySession(s SessionHandle) error
}

// SessionHandler is implemented by the messenger and invoked by the
// transport for every session, connection and message event.
type SessionHandler interface {
	OnNewSession(s SessionHandle, req *NewSessionRequest) error
	OnSessionEvent(s SessionHandle, ev SessionEvent) error

	OnMessage(s SessionHandle, tok Token, in *Request, moreInBatch bool) error
	OnSendComplete(s SessionHandle, tok Token, out Outbound) error
	OnMessageDelivered(s SessionHandle, tok Token, out Outbound, moreInBatch bool) error
	OnMessageError(s SessionHandle, tok Token, status error, out Outbound) error
	OnCancel(s SessionHandle, tok Token, out Outbound, result error) error
	OnCancelRequest(s SessionHandle, tok Token, out Outbound) error
}
