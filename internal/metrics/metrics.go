// Package metrics exposes Prometheus counters for authentication, onboarding
// transitions and transport requests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and transports report to.
type Recorder interface {
	RecordAuth(method, outcome string)
	RecordTransition(action, fromStage, toStage string)
	RecordTokenRejected()
	RecordRequest(transport, route, code string, d time.Duration)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	auth          *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	tokenRejected prometheus.Counter
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewCollector builds a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregate_auth_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregate_application_transitions_total",
			Help: "Applied onboarding transitions.",
		}, []string{"action", "from_stage", "to_stage"}),
		tokenRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caregate_token_rejected_total",
			Help: "Session tokens that failed verification.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregate_requests_total",
			Help: "Handled requests by transport, route and result code.",
		}, []string{"transport", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caregate_request_duration_seconds",
			Help:    "Request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport", "route"}),
	}

	reg.MustRegister(c.auth, c.transitions, c.tokenRejected, c.requests, c.latency)
	return c
}

// RecordAuth counts one authentication attempt.
func (c *Collector) RecordAuth(method, outcome string) {
	c.auth.WithLabelValues(method, outcome).Inc()
}

// RecordTransition counts one applied transition.
func (c *Collector) RecordTransition(action, fromStage, toStage string) {
	c.transitions.WithLabelValues(action, fromStage, toStage).Inc()
}

// RecordTokenRejected counts a failed token verification.
func (c *Collector) RecordTokenRejected() { c.tokenRejected.Inc() }

// RecordRequest counts a request and observes its latency.
func (c *Collector) RecordRequest(transport, route, code string, d time.Duration) {
	c.requests.WithLabelValues(transport, route, code).Inc()
	c.latency.WithLabelValues(transport, route).Observe(d.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAuth(string, string)                           {}
func (Nop) RecordTransition(string, string, string)             {}
func (Nop) RecordTokenRejected()                                {}
func (Nop) RecordRequest(string, string, string, time.Duration) {}
