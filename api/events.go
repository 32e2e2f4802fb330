// File: api/events.go
// Package api defines core event types for hioload-xmsgr.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// SessionEventKind enumerates transport session and connection events.
type SessionEventKind int

const (
	EventSessionReject SessionEventKind = iota
	EventSessionTeardown
	EventNewConnection
	EventConnectionEstablished
	EventConnectionTeardown
	EventConnectionClosed
	EventConnectionDisconnected
	EventConnectionRefused
	EventConnectionError
	EventSessionError
)

var sessionEventNames = [...]string{
	"SESSION_REJECT",
	"SESSION_TEARDOWN",
	"NEW_CONNECTION",
	"CONNECTION_ESTABLISHED",
	"CONNECTION_TEARDOWN",
	"CONNECTION_CLOSED",
	"CONNECTION_DISCONNECTED",
	"CONNECTION_REFUSED",
	"CONNECTION_ERROR",
	"SESSION_ERROR",
}

func (k SessionEventKind) String() string {
	if k < 0 || int(k) >= len(sessionEventNames) {
		return "UNKNOWN_EVENT"
	}
	return sessionEventNames[k]
}

// Terminal reports whether the event ends a connection.
func (k SessionEventKind) Terminal() bool {
	switch k {
	case EventConnectionClosed, EventConnectionDisconnected, EventConnectionRefused:
		return true
	}
	return false
}

// SessionEvent is emitted by the transport for session-level changes.
type SessionEvent struct {
	Kind   SessionEventKind
	Reason error // nil for orderly events
	Conn   ConnHandle
	Token  Token // zero when no context was attached
}
