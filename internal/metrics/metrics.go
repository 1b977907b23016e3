// Package metrics exports router activity to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "padmux"

// Press outcomes.
const (
	PressSelect  = "select"
	PressForward = "forward"
	PressIgnored = "ignored"
)

// Metrics holds the router's collectors.
type Metrics struct {
	Sessions  prometheus.Gauge
	Presses   *prometheus.CounterVec
	Forwarded prometheus.Counter
	Dropped   prometheus.Counter
	Reports   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected remote sessions.",
		}),
		Presses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presses_total",
			Help:      "Grid button presses by outcome.",
		}, []string{"outcome"}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Function buttons queued for the selected session.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_dropped_total",
			Help:      "Function buttons dropped because the session outbox was full.",
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_reports_total",
			Help:      "Status codes received from sessions.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.Sessions, m.Presses, m.Forwarded, m.Dropped, m.Reports)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionJoined() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionLeft() {
	if m != nil {
		m.Sessions.Dec()
	}
}

func (m *Metrics) Press(outcome string) {
	if m != nil {
		m.Presses.WithLabelValues(outcome).Inc()
	}
}

// Forward records a function button handed to a session, or dropped when
// queued is false.
func (m *Metrics) Forward(queued bool) {
	if m == nil {
		return
	}
	if queued {
		m.Forwarded.Inc()
	} else {
		m.Dropped.Inc()
	}
}

func (m *Metrics) Report(code string) {
	if m != nil {
		m.Reports.WithLabelValues(code).Inc()
	}
}
