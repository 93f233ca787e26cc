// Package metrics exposes Prometheus instrumentation for the decision
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals accepted into the aggregator"},
		[]string{"module"},
	)
	SignalsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_dropped_total", Help: "Signals dropped before ranking"},
		[]string{"reason"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisions_total", Help: "Decisions emitted by the aggregator"},
		[]string{"kind"},
	)
	RiskRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_rejects_total", Help: "Decisions rejected by the risk manager"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Order legs submitted to the venue"},
		[]string{"side", "status"},
	)
	UnwindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unwinds_total", Help: "Paired-leg unwind outcomes"},
		[]string{"outcome"},
	)
	ExposureUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "exposure_usd", Help: "Aggregate committed capital"},
	)
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "breaker_state", Help: "Circuit breaker severity (0 normal, 1 daily halt, 2 critical halt)"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		SignalsDroppedTotal,
		DecisionsTotal,
		RiskRejectsTotal,
		OrdersTotal,
		UnwindsTotal,
		ExposureUSD,
		BreakerState,
	)
}

// Serve exposes /metrics on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
