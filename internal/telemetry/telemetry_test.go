package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersAllInstruments(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(registry)
	require.NotNil(t, c)

	c.OrdersSubmitted.Inc()
	c.RiskViolations.WithLabelValues("dv01").Inc()
	c.BookDepth.WithLabelValues("10Y", "bid").Set(5)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLatencyTrackerRecordsAndSnapshots(t *testing.T) {
	tracker := NewLatencyTracker(nil)
	start := time.Now().Add(-1 * time.Millisecond)
	tracker.Record("decision", start)
	tracker.Record("decision", start)

	stats := tracker.StatsFor("decision")
	assert.Greater(t, stats.Max, int64(0))
	assert.GreaterOrEqual(t, stats.P99, stats.Mean)
}

func TestLatencyTrackerIsolatesStagesByName(t *testing.T) {
	tracker := NewLatencyTracker(nil)
	tracker.Record("ingress", time.Now())
	tracker.Record("venue_io", time.Now().Add(-5*time.Millisecond))

	ingress := tracker.StatsFor("ingress")
	venue := tracker.StatsFor("venue_io")
	assert.NotEqual(t, ingress.Max, venue.Max)
}
