package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("sheet:sort").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("sheet:sort").End(boom), boom)
	m.AddSorted("workbook")

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sheet:sort", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sheet:sort", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("sheet:sort")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sorted.WithLabelValues("workbook")))
}

func TestNilMetricsTracker(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.AddSorted("sheets")
}
