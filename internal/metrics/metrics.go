// Package metrics counts per-stage work for batch runs and dumps it in textfile-collector format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item outcomes.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the pipeline counters on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	Items       *prometheus.CounterVec
	APIAttempts *prometheus.CounterVec
	Retries     *prometheus.CounterVec
}

// New registers the pipeline counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chartstudy_items_total",
			Help: "Items handled per stage, by outcome.",
		}, []string{"stage", "outcome"}),
		APIAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chartstudy_api_attempts_total",
			Help: "Remote calls issued, by target and result.",
		}, []string{"target", "result"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chartstudy_retries_total",
			Help: "Retries after transient failures, by target.",
		}, []string{"target"}),
	}
}

// Item records one item outcome for stage. A nil receiver is a no-op.
func (m *Metrics) Item(stage, outcome string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(stage, outcome).Inc()
}

// Attempt records one remote call.
func (m *Metrics) Attempt(target string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.APIAttempts.WithLabelValues(target, result).Inc()
}

// Retry records one retry for target.
func (m *Metrics) Retry(target string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(target).Inc()
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// WriteTextfile dumps the registry to path. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
