// Package metrics exposes the Prometheus counters and histograms the
// station engine records during request lifecycle processing.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Registry struct {
	requestsCreated    *prometheus.CounterVec
	approvalsSubmitted *prometheus.CounterVec
	policyEvaluations  *prometheus.CounterVec
	requestsTerminal   *prometheus.CounterVec
	tickDuration       prometheus.Histogram
}

var (
	once     sync.Once
	instance *Registry
)

// Get returns the process-wide metrics singleton, registering its
// collectors with the default Prometheus registry on first use.
func Get() *Registry {
	once.Do(func() {
		instance = &Registry{
			requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stationd",
				Subsystem: "requests",
				Name:      "created_total",
				Help:      "Count of requests created, segmented by operation kind.",
			}, []string{"operation"}),
			approvalsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stationd",
				Subsystem: "requests",
				Name:      "approvals_total",
				Help:      "Count of approval decisions submitted, segmented by decision.",
			}, []string{"decision"}),
			policyEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stationd",
				Subsystem: "policy",
				Name:      "evaluations_total",
				Help:      "Count of policy evaluation passes, segmented by resulting status.",
			}, []string{"status"}),
			requestsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stationd",
				Subsystem: "requests",
				Name:      "terminal_total",
				Help:      "Count of requests reaching a terminal status, segmented by status.",
			}, []string{"status"}),
			tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "stationd",
				Subsystem: "lifecycle",
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock duration of a single lifecycle engine tick.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			instance.requestsCreated,
			instance.approvalsSubmitted,
			instance.policyEvaluations,
			instance.requestsTerminal,
			instance.tickDuration,
		)
	})
	return instance
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

func (r *Registry) RecordRequestCreated(operation string) {
	if r == nil {
		return
	}
	r.requestsCreated.WithLabelValues(normalize(operation)).Inc()
}

func (r *Registry) RecordApproval(decision string) {
	if r == nil {
		return
	}
	r.approvalsSubmitted.WithLabelValues(normalize(decision)).Inc()
}

func (r *Registry) RecordPolicyEvaluation(status string) {
	if r == nil {
		return
	}
	r.policyEvaluations.WithLabelValues(normalize(status)).Inc()
}

func (r *Registry) RecordTerminal(status string) {
	if r == nil {
		return
	}
	r.requestsTerminal.WithLabelValues(normalize(status)).Inc()
}

func (r *Registry) ObserveTick(d time.Duration) {
	if r == nil {
		return
	}
	r.tickDuration.Observe(d.Seconds())
}
