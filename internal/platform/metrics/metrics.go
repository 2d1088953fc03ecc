// Package metrics holds the service's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learn"

// Metrics is a set of collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	AccessDecisions   *prometheus.CounterVec
	QuizSubmissions   *prometheus.CounterVec
	PaymentsApplied   *prometheus.CounterVec
	ChaptersCompleted prometheus.Counter
	EventLogFailures  prometheus.Counter
}

// New registers all collectors, plus Go runtime and process collectors, on a
// new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		AccessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Entitlement decisions by result and reason.",
		}, []string{"result", "reason"}),
		QuizSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_submissions_total",
			Help:      "Quiz submissions by family and outcome.",
		}, []string{"family", "passed"}),
		PaymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_applied_total",
			Help:      "Payment confirmations by tier; replayed deliveries are labelled.",
		}, []string{"tier", "replayed"}),
		ChaptersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chapters_completed_total",
			Help:      "Chapter completion calls that succeeded.",
		}),
		EventLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_log_failures_total",
			Help:      "Learning events that could not be recorded.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AccessDecisions,
		m.QuizSubmissions,
		m.PaymentsApplied,
		m.ChaptersCompleted,
		m.EventLogFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveAccess(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.AccessDecisions.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveSubmission(family string, passed bool) {
	if m == nil {
		return
	}
	m.QuizSubmissions.WithLabelValues(family, strconv.FormatBool(passed)).Inc()
}

func (m *Metrics) ObservePayment(tier string, replayed bool) {
	if m == nil {
		return
	}
	m.PaymentsApplied.WithLabelValues(tier, strconv.FormatBool(replayed)).Inc()
}

func (m *Metrics) ObserveChapterCompleted() {
	if m == nil {
		return
	}
	m.ChaptersCompleted.Inc()
}

func (m *Metrics) ObserveEventLogFailure() {
	if m == nil {
		return
	}
	m.EventLogFailures.Inc()
}
