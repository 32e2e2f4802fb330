package control_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-xmsgr/control"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetrics(reg, "test")
	require.NoError(t, err)

	m.Accepted()
	m.Initiated()
	m.Initiated()
	m.Closed()
	m.FrameSent(3, 3_000_064)
	m.AllocFailure()
	m.SendError()
	m.SetConnections(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsInitiated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent))
	assert.Equal(t, 3_000_064.0, testutil.ToFloat64(m.BytesEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameAllocFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendErrors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RegistryConnections))

	n, err := testutil.GatherAndCount(reg, "test_messenger_requests_per_frame")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := control.NewMetrics(reg, "shared")
	require.NoError(t, err)
	b, err := control.NewMetrics(reg, "shared")
	require.NoError(t, err)

	a.Accepted()
	b.Accepted()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.ConnectionsAccepted))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *control.Metrics
	m.Accepted()
	m.FrameSent(1, 1)
	m.SetConnections(1)

	u, err := control.NewMetrics(nil, "x")
	require.NoError(t, err)
	u.Closed()
	assert.Equal(t, 1.0, testutil.ToFloat64(u.ConnectionsClosed))
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("registry.len", func() any { return 3 })
	dp.RegisterProbe("nested", func() any {
		// Probes may consult the registry they live in.
		return len(dp.Names())
	})

	st := dp.DumpState()
	assert.Equal(t, 3, st["registry.len"])
	assert.Contains(t, st, "platform.cpus")
	assert.Contains(t, dp.Names(), "platform.pagesize")
	assert.Equal(t, len(dp.Names()), st["nested"])
}
