// Package metrics provides Prometheus metrics for the search authorization
// service. Collectors are registered through promauto so a test can use its
// own registry.
package metrics

import (
	"math"
	"time"

	"search-authorizer/internal/audit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Scoring
	SearchesScored    *prometheus.CounterVec // by decision
	ScoringFailures   prometheus.Counter
	ScoringLatency    prometheus.Histogram
	ScoreDistribution prometheus.Histogram

	// Requests
	ValidationFailures    *prometheus.CounterVec // by column, "unrecognized" or "body"
	DuplicateObservations prometheus.Counter
	OutcomesReported      *prometheus.CounterVec // by confusion cell

	// Features
	ImputedCoordinates    prometheus.Counter
	UnresolvedCoordinates prometheus.Counter

	// Audit
	Discrepancy        *prometheus.GaugeVec // by kind
	StationDiscrepancy *prometheus.GaugeVec // by station
	AuditedSamples     prometheus.Gauge

	// Stream
	StreamClients prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		SearchesScored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "searches_scored_total",
			Help: "Total number of observations scored, by decision",
		}, []string{"decision"}),
		ScoringFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scoring_failures_total",
			Help: "Total number of scoring function failures",
		}),
		ScoringLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scoring_latency_seconds",
			Help:    "Scoring function latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		ScoreDistribution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_probability",
			Help:    "Distribution of predicted search success probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total number of rejected requests, by offending field",
		}, []string{"field"}),
		DuplicateObservations: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplicate_observations_total",
			Help: "Total number of observations submitted more than once",
		}),
		OutcomesReported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outcomes_reported_total",
			Help: "Total number of reported search outcomes, by confusion matrix cell",
		}, []string{"cell"}),
		ImputedCoordinates: factory.NewCounter(prometheus.CounterOpts{
			Name: "imputed_coordinates_total",
			Help: "Total number of observations with coordinates taken from the station table",
		}),
		UnresolvedCoordinates: factory.NewCounter(prometheus.CounterOpts{
			Name: "unresolved_coordinates_total",
			Help: "Total number of observations with missing coordinates of an unknown station",
		}),
		Discrepancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precision_discrepancy",
			Help: "Latest precision discrepancy, NaN when undefined",
		}, []string{"kind"}),
		StationDiscrepancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "station_precision_discrepancy",
			Help: "Latest within-station precision discrepancy, NaN when undefined",
		}, []string{"station"}),
		AuditedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audited_samples",
			Help: "Number of samples in the latest audit",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Number of connected stream clients",
		}),
	}
}

func (m *Metrics) Decision(approved bool, probability float64, latency time.Duration) {
	m.SearchesScored.WithLabelValues(decisionLabel(approved)).Inc()
	m.ScoreDistribution.Observe(probability)
	m.ScoringLatency.Observe(latency.Seconds())
}

func (m *Metrics) ScoringFailure() { m.ScoringFailures.Inc() }

func (m *Metrics) ValidationFailure(field string) {
	if field == "" {
		field = "unknown"
	}
	m.ValidationFailures.WithLabelValues(field).Inc()
}

func (m *Metrics) Duplicate() { m.DuplicateObservations.Inc() }

func (m *Metrics) Coordinates(imputed, unresolved bool) {
	if imputed {
		m.ImputedCoordinates.Inc()
	}
	if unresolved {
		m.UnresolvedCoordinates.Inc()
	}
}

// Outcome counts a reported outcome in its confusion matrix cell.
func (m *Metrics) Outcome(predicted, actual bool) {
	m.OutcomesReported.WithLabelValues(cell(predicted, actual)).Inc()
}

// Audit publishes the discrepancies of rep.
func (m *Metrics) Audit(rep *audit.Report) {
	m.AuditedSamples.Set(float64(rep.Audited))
	m.Discrepancy.WithLabelValues("across_station").Set(gaugeValue(rep.AcrossStation))
	m.Discrepancy.WithLabelValues("across_subgroup").Set(gaugeValue(rep.AcrossSubgroup))
	m.Discrepancy.WithLabelValues("max_within_station").Set(gaugeValue(rep.MaxWithinStation))

	m.StationDiscrepancy.Reset()
	for _, s := range rep.WithinStation {
		m.StationDiscrepancy.WithLabelValues(s.Station).Set(gaugeValue(s.Discrepancy))
	}
}

func (m *Metrics) StreamClientsChanged(n int) { m.StreamClients.Set(float64(n)) }

// Precision returns TP / (TP + FP) over the reported outcomes gathered from
// g, or 0 when no positive prediction has been resolved.
func Precision(g prometheus.Gatherer) float64 {
	families, err := g.Gather()
	if err != nil {
		return 0
	}

	var tp, fp float64
	for _, mf := range families {
		if mf.GetName() != "outcomes_reported_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() != "cell" {
					continue
				}
				switch l.GetValue() {
				case "tp":
					tp = m.GetCounter().GetValue()
				case "fp":
					fp = m.GetCounter().GetValue()
				}
			}
		}
	}

	if tp+fp == 0 {
		return 0
	}
	return tp / (tp + fp)
}

func decisionLabel(approved bool) string {
	if approved {
		return "authorize"
	}
	return "deny"
}

func cell(predicted, actual bool) string {
	switch {
	case predicted && actual:
		return "tp"
	case predicted:
		return "fp"
	case actual:
		return "fn"
	}
	return "tn"
}

func gaugeValue(m audit.Metric) float64 {
	if !m.Defined {
		return math.NaN()
	}
	return m.Value
}
