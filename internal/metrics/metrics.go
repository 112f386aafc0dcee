// Package metrics exposes Prometheus collectors for polling and settlement.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll cycle outcomes.
const (
	ResultOK          = "ok"
	ResultFetchFailed = "fetch_failed"
	ResultStoreFailed = "store_failed"
	ResultBusy        = "busy"
	ResultGone        = "gone"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	pollCycles    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	settlements   prometheus.Counter
	holdings      prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		pollCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Per-holding poll cycles by outcome",
			},
			[]string{"result"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_fetch_duration_seconds",
				Help:      "Duration of valuation oracle requests",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"source", "status"},
		),
		settlements: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Applied daily settlements",
			},
		),
		holdings: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "holdings_polled",
				Help:      "Holdings visited by the last poll run",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
	}
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetch(source string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.fetchDuration.WithLabelValues(source, status).Observe(d.Seconds())
}

func (m *Metrics) ObserveSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

func (m *Metrics) SetHoldingsPolled(n int) {
	if m == nil {
		return
	}
	m.holdings.Set(float64(n))
}

func (m *Metrics) ObserveRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
}
