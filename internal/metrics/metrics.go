package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the sector pipeline.
type Metrics struct {
	ObservationsStored prometheus.Counter

	// Per-stock RSI outcomes. result: ok, undefined, error.
	StockRSI *prometheus.CounterVec

	SectorIndicators   prometheus.Counter
	SectorsUnavailable prometheus.Counter

	// Incremental leader updates. kind: new, extend, replace.
	LeaderTransitions *prometheus.CounterVec

	// Historical recomputation. result: updated, missing, failed.
	RecomputeRecords *prometheus.CounterVec

	JobDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and one-shot runs use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObservationsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_observations_stored_total",
			Help: "Daily price observations upserted",
		}),
		StockRSI: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_stock_rsi_total",
			Help: "Per-stock multi-horizon RSI evaluations by result",
		}, []string{"result"}),
		SectorIndicators: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_sector_indicators_total",
			Help: "Sector indicator records produced",
		}),
		SectorsUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_sectors_unavailable_total",
			Help: "Sector indicator records with no defined horizon",
		}),
		LeaderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_leader_transitions_total",
			Help: "Incremental leadership updates by kind",
		}, []string{"kind"}),
		RecomputeRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_recompute_records_total",
			Help: "Leadership records visited by historical recomputation",
		}, []string{"result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_job_duration_seconds",
			Help:    "Scheduled job wall time",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ObservationsStored,
			m.StockRSI,
			m.SectorIndicators,
			m.SectorsUnavailable,
			m.LeaderTransitions,
			m.RecomputeRecords,
			m.JobDuration,
		)
	}
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
