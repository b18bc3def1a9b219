package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.EventHandled("joinBoard")
	m.EventDropped("not_joined")
	m.EventDropped("not_joined")
	m.SetActiveStrokes(3)
	m.Flushed("checkpoint", "ok")

	require.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ActiveStrokes))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("joinBoard")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Dropped.WithLabelValues("not_joined")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues("checkpoint", "ok")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	require.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.EventHandled("joinBoard")
		m.EventDropped("invalid")
		m.SetActiveStrokes(1)
		m.Flushed("shutdown", "error")
	})
}
