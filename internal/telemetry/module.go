package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the telemetry components: a Prometheus registry, the
// engine's Collector, a LatencyTracker, and the HTTP exporter lifecycle
// hook (spec §5's Telemetry thread). Grounded on
// internal/metrics/metrics_module.go's Module/RegisterMetricsHandler shape.
var Module = fx.Options(
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewCollector),
	fx.Provide(NewLatencyTracker),
	fx.Invoke(RegisterMetricsHandler),
)

// NewPrometheusRegistry constructs an empty registry.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ServerAddr is the bind address for the Prometheus exporter, provided by
// the composition root from config.Config.Telemetry.PrometheusAddr.
type ServerAddr string

// RegisterMetricsHandler starts (and on shutdown, stops) the /metrics HTTP
// server. It runs entirely off the hot path per spec §5.
func RegisterMetricsHandler(lc fx.Lifecycle, registry *prometheus.Registry, logger *zap.Logger, addr ServerAddr) {
	bind := string(addr)
	if bind == "" {
		bind = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: bind, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("telemetry: starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("telemetry: metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("telemetry: stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
