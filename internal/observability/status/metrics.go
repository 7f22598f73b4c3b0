package status

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patchwatch/internal/pipeline"
)

const namespace = "patchwatch"

// Metrics records pipeline activity. It implements pipeline.Observer.
type Metrics struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	deliveries      *prometheus.CounterVec
	extractFailures prometheus.Counter
	triggers        *prometheus.CounterVec
}

// NewMetrics builds a private registry. destinations backs the
// destinations gauge and may be nil.
func NewMetrics(destinations func() int) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of detection cycles that found a new item.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-destination delivery results.",
		}, []string{"result"}),
		extractFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "New items that produced no deliverable document.",
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "On-demand deliveries by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.cycles, m.cycleDuration, m.deliveries, m.extractFailures, m.triggers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if destinations != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destinations",
			Help:      "Registered destinations.",
		}, func() float64 { return float64(destinations()) }))
	}
	return m
}

func (m *Metrics) CycleFinished(r pipeline.CycleReport) {
	m.cycles.WithLabelValues(string(r.Outcome)).Inc()
	switch r.Outcome {
	case pipeline.OutcomeExtractFailed, pipeline.OutcomeEmpty:
		m.extractFailures.Inc()
	case pipeline.OutcomeDelivered:
		m.cycleDuration.Observe(r.Duration.Seconds())
	}
	for _, res := range r.Results {
		m.deliveries.WithLabelValues(string(res.Status)).Inc()
	}
}

func (m *Metrics) TriggerFinished(_ string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNotConfigured):
		result = "not_configured"
	case errors.Is(err, pipeline.ErrNothingYet):
		result = "nothing_yet"
	default:
		result = "failed"
	}
	m.triggers.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
