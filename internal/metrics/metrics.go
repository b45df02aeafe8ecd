// Package metrics exposes client-side counters for the session pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

// Recorder holds the pipeline counters. A nil *Recorder records nothing.
type Recorder struct {
	outcomes    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "outcomes_total",
			Help:      "Classified outcomes of outbound API calls.",
		}, []string{"kind", "reason"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "decisions_total",
			Help:      "Navigation guard decisions by action and target route.",
		}, []string{"action", "route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
	}

	for _, c := range []prometheus.Collector{r.outcomes, r.decisions, r.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Outcome counts one classified transport outcome
func (r *Recorder) Outcome(kind, reason string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(kind, reason).Inc()
}

// Decision counts one navigation guard decision
func (r *Recorder) Decision(action, route string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(action, route).Inc()
}

// Transition counts one session lifecycle event, e.g. "login" or "forced_logout"
func (r *Recorder) Transition(event string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(event).Inc()
}
