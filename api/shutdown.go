// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that release transport
// and pool resources on stop.
type GracefulShutdown interface {
	// Shutdown stops the component and releases its resources. Calling it
	// again returns the error of the first call or nil.
	Shutdown() error
}
