// Package telemetry is the engine's off-hot-path observability surface:
// per-stage latency reservoirs (rcrowley/go-metrics) and a Prometheus
// exporter, wired together by an fx module (the Telemetry role of spec §5,
// run by the fx app rather than a pinned goroutine). Grounded on internal/performance/latency/tracker.go
// (per-name ExpDecaySample histograms, threshold-based warning logs) and
// internal/metrics/metrics_module.go (the fx.Options + promhttp wiring).
package telemetry

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Stage-level latency thresholds (spec §2's sub-2µs decision budget and
// §4.1/§4.4's per-operation targets), used only to decide when a sample is
// loud enough to log — never to reject or delay anything on the hot path.
const (
	IngressThresholdNs  = 500_000   // tick -> book-update budget
	DecisionThresholdNs = 2_000     // strategy decision budget
	VenueIOThresholdNs  = 1_000_000 // venue round trip budget
)

// LatencyTracker accumulates per-stage latency samples off the hot path:
// callers record a duration once a stage completes, never during it.
type LatencyTracker struct {
	mu       sync.RWMutex
	named    map[string]metrics.Histogram
	logger   *zap.Logger
	threshNs map[string]int64
}

// NewLatencyTracker constructs an empty tracker.
func NewLatencyTracker(logger *zap.Logger) *LatencyTracker {
	return &LatencyTracker{
		named:  make(map[string]metrics.Histogram),
		logger: logger,
		threshNs: map[string]int64{
			"ingress":  IngressThresholdNs,
			"decision": DecisionThresholdNs,
			"venue_io": VenueIOThresholdNs,
		},
	}
}

func (t *LatencyTracker) histogramFor(stage string) metrics.Histogram {
	t.mu.RLock()
	h, ok := t.named[stage]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok = t.named[stage]; ok {
		return h
	}
	h = metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	t.named[stage] = h
	return h
}

// Record adds one latency observation for stage, warning if it exceeds the
// stage's configured threshold.
func (t *LatencyTracker) Record(stage string, since time.Time) {
	latencyNs := time.Since(since).Nanoseconds()
	t.histogramFor(stage).Update(latencyNs)

	if threshold, ok := t.threshNs[stage]; ok && latencyNs > threshold && t.logger != nil {
		t.logger.Warn("telemetry: stage exceeded latency threshold",
			zap.String("stage", stage), zap.Int64("latency_ns", latencyNs), zap.Int64("threshold_ns", threshold))
	}
}

// Stats is a point-in-time latency summary for one stage.
type Stats struct {
	Min, Max, Mean, P95, P99 int64
}

// StatsFor returns a snapshot of stage's accumulated latencies.
func (t *LatencyTracker) StatsFor(stage string) Stats {
	snap := t.histogramFor(stage).Snapshot()
	return Stats{
		Min:  snap.Min(),
		Max:  snap.Max(),
		Mean: int64(snap.Mean()),
		P95:  int64(snap.Percentile(0.95)),
		P99:  int64(snap.Percentile(0.99)),
	}
}
