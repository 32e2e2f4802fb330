// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-xmsgr.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed          = errors.New("transport is closed")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrResourceExhausted        = errors.New("resource exhausted")
	ErrNotConnected             = errors.New("not connected")
	ErrConnectionFailed         = errors.New("connection establishment failed")
	ErrUnsupportedAddressFamily = errors.New("unsupported address family")
	ErrAlreadyExists            = errors.New("resource already exists")
	ErrNotFound                 = errors.New("resource not found")
	ErrInvalidToken             = errors.New("invalid connection token")
	ErrRuntimeInUse             = errors.New("runtime still in use")
	ErrMessengerClosed          = errors.New("messenger is shut down")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotConnected
	ErrCodeConnectionFailed
	ErrCodeUnsupportedAddressFamily
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:          ErrInvalidArgument,
	ErrCodeResourceExhausted:        ErrResourceExhausted,
	ErrCodeNotConnected:             ErrNotConnected,
	ErrCodeConnectionFailed:         ErrConnectionFailed,
	ErrCodeUnsupportedAddressFamily: ErrUnsupportedAddressFamily,
	ErrCodeAlreadyExists:            ErrAlreadyExists,
	ErrCodeNotFound:                 ErrNotFound,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel registered for the error code.
func (e *Error) Is(target error) bool {
	if s, ok := codeSentinels[e.Code]; ok {
		return s == target
	}
	return false
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}
