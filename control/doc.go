// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection layer.
//
// Provides:
//   - Prometheus collectors for connection and frame accounting
//   - Debug probe registration and state export
//
// Platform probes are build-tag-partitioned.
package control
