package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for FillLedger.
type Metrics struct {
	// --- Ingestion / normalization ---
	RowsNormalized *prometheus.CounterVec
	RowsSkipped    *prometheus.CounterVec
	ParseDefaults  *prometheus.CounterVec
	SchemaFailures *prometheus.CounterVec

	// --- Recompute pass ---
	PassesRun         prometheus.Counter
	PassDuration      prometheus.Histogram
	LastPassTimestamp prometheus.Gauge
	InstrumentsFailed *prometheus.CounterVec

	// --- Outputs ---
	LedgerEvents   *prometheus.GaugeVec
	CyclesOpen     *prometheus.GaugeVec
	CyclesClosed   *prometheus.GaugeVec
	PendingFunding *prometheus.GaugeVec

	// --- Persistence sink ---
	SinkRowsWritten *prometheus.CounterVec
	SinkErrors      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	passBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}

	return &Metrics{
		RowsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_rows_normalized_total",
			Help: "Raw rows successfully normalized into fills",
		}, []string{"source"}),

		RowsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_rows_skipped_total",
			Help: "Raw rows skipped (not ours, missing required values)",
		}, []string{"source"}),

		ParseDefaults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_parse_defaults_total",
			Help: "Fields substituted with zero after a parse failure",
		}, []string{"source"}),

		SchemaFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_schema_failures_total",
			Help: "Sources whose columns could not be resolved",
		}, []string{"source"}),

		PassesRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_passes_run_total",
			Help: "Recompute passes started",
		}),

		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_pass_duration_seconds",
			Help:    "Full recompute pass duration",
			Buckets: passBuckets,
		}),

		LastPassTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed pass",
		}),

		InstrumentsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_instruments_failed_total",
			Help: "Instrument reconstructions that failed and kept stale output",
		}, []string{"instrument"}),

		LedgerEvents: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_events",
			Help: "Ledger events produced for an instrument in the last pass",
		}, []string{"instrument"}),

		CyclesOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_cycles_open",
			Help: "Open cycles for an instrument in the last pass",
		}, []string{"instrument"}),

		CyclesClosed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_cycles_closed",
			Help: "Closed cycles for an instrument in the last pass",
		}, []string{"instrument"}),

		PendingFunding: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_pending_funding",
			Help: "Funding amount awaiting a qualifying close, per instrument",
		}, []string{"instrument"}),

		SinkRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sink_rows_written_total",
			Help: "Rows written to the Postgres sink",
		}, []string{"table"}),

		SinkErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sink_errors_total",
			Help: "Postgres sink write failures",
		}),
	}
}
