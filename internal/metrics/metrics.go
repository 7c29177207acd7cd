// Package metrics exposes Prometheus collectors for the HTTP layer and the
// file operations it dispatches.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActionsTotal    *prometheus.CounterVec
	LoginFailures   prometheus.Counter
	UploadedBytes   prometheus.Counter
	SessionsActive  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector on a private registry, so several servers
// (and tests) can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filedeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		ActionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedeck_actions_total",
				Help: "File manager actions by outcome",
			},
			[]string{"action", "result"},
		),
		LoginFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "filedeck_login_failures_total",
			Help: "Rejected login attempts, including throttled ones",
		}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "filedeck_uploaded_bytes_total",
			Help: "Bytes stored by completed uploads",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "filedeck_sessions_active",
			Help: "Sessions currently held in memory",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Action(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
