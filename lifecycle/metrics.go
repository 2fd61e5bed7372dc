package lifecycle

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

type Metrics struct {
	transitions     *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
	anomalies       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bikerental_transitions_total",
				Help: "Lifecycle operations by outcome.",
			},
			[]string{"op", "result"},
		),
		inconsistencies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bikerental_inconsistencies_total",
				Help: "Operations that left a bike and its trips out of sync.",
			},
			[]string{"op"},
		),
		anomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bikerental_open_trip_anomalies_total",
				Help: "Returns that found more than one open trip for a bike.",
			},
		),
	}
	reg.MustRegister(m.transitions, m.inconsistencies, m.anomalies)
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) inconsistent(op string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(op).Inc()
}

func (m *Metrics) openTripAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInconsistentState):
		return "inconsistent"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, apperr.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
