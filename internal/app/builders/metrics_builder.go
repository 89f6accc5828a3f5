package builders

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aatumaykin/jobrelay/internal/config"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/metrics"
)

// BuildMetrics returns the metrics sink and, when metrics are enabled, an
// HTTP server exposing them. A nil reg uses a fresh registry with the Go and
// process collectors.
func BuildMetrics(cfg *config.Config, reg *prometheus.Registry) (metrics.Sink, *http.Server) {
	if !cfg.Metrics.Enabled {
		return metrics.NewNoopSink(), nil
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	sink := metrics.NewPrometheusSink(constants.MetricsNamespace, reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return sink, &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: mux,
	}
}
