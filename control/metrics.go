// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for messenger connection and frame accounting.
// A nil *Metrics is valid and records nothing.

package control

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the messenger collectors.
type Metrics struct {
	ConnectionsAccepted  prometheus.Counter
	ConnectionsInitiated prometheus.Counter
	ConnectionsClosed    prometheus.Counter
	FramesSent           prometheus.Counter
	FrameAllocFailures   prometheus.Counter
	SendErrors           prometheus.Counter
	BytesEnqueued        prometheus.Counter
	RegistryConnections  prometheus.Gauge
	RequestsPerFrame     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered under the same
// name are reused, so several messengers may share one registry.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messenger", Name: name, Help: help,
		})
	}
	m := &Metrics{
		ConnectionsAccepted:  counter("connections_accepted_total", "Connections accepted from remote peers."),
		ConnectionsInitiated: counter("connections_initiated_total", "Outbound connections created."),
		ConnectionsClosed:    counter("connections_closed_total", "Connections removed on terminal events."),
		FramesSent:           counter("frames_sent_total", "Frames handed to the transport."),
		FrameAllocFailures:   counter("frame_alloc_failures_total", "Frame allocations that failed on pool exhaustion."),
		SendErrors:           counter("send_errors_total", "Send or delivery errors reported by the transport."),
		BytesEnqueued:        counter("bytes_enqueued_total", "Payload bytes handed to the transport."),
		RegistryConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "messenger", Name: "registry_connections",
			Help: "Connections currently held in the registry.",
		}),
		RequestsPerFrame: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "messenger", Name: "requests_per_frame",
			Help:    "Transport requests chained per outbound frame.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.ConnectionsAccepted, err = register(reg, m.ConnectionsAccepted); err != nil {
		return nil, err
	}
	if m.ConnectionsInitiated, err = register(reg, m.ConnectionsInitiated); err != nil {
		return nil, err
	}
	if m.ConnectionsClosed, err = register(reg, m.ConnectionsClosed); err != nil {
		return nil, err
	}
	if m.FramesSent, err = register(reg, m.FramesSent); err != nil {
		return nil, err
	}
	if m.FrameAllocFailures, err = register(reg, m.FrameAllocFailures); err != nil {
		return nil, err
	}
	if m.SendErrors, err = register(reg, m.SendErrors); err != nil {
		return nil, err
	}
	if m.BytesEnqueued, err = register(reg, m.BytesEnqueued); err != nil {
		return nil, err
	}
	if m.RegistryConnections, err = register(reg, m.RegistryConnections); err != nil {
		return nil, err
	}
	if m.RequestsPerFrame, err = register(reg, m.RequestsPerFrame); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.ConnectionsAccepted.Inc()
	}
}

func (m *Metrics) Initiated() {
	if m != nil {
		m.ConnectionsInitiated.Inc()
	}
}

func (m *Metrics) Closed() {
	if m != nil {
		m.ConnectionsClosed.Inc()
	}
}

// FrameSent records one enqueued frame of requests requests and bytes bytes.
func (m *Metrics) FrameSent(requests, bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesEnqueued.Add(float64(bytes))
	m.RequestsPerFrame.Observe(float64(requests))
}

func (m *Metrics) AllocFailure() {
	if m != nil {
		m.FrameAllocFailures.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}

// SetConnections publishes the registry size.
func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.RegistryConnections.Set(float64(n))
	}
}
