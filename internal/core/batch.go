package core

import (
	"sort"

	"github.com/rs/zerolog"

	"FillLedger/internal/event"
	"FillLedger/internal/ingestion"
	"FillLedger/internal/observability"
)

// IngestReport summarizes what normalization did to the raw logs feeding a
// pass: per-source row counts and the sources dropped for schema reasons.
type IngestReport struct {
	SourceStats  map[string]ingestion.Stats
	FundingStats ingestion.Stats
	SchemaErrors []error
}

// BuildInputs normalizes the raw input logs into the per-instrument batch a
// pass consumes. A source whose schema cannot be resolved is logged and
// skipped; every other source still contributes. Funding payments for an
// instrument with no fills still get an entry, so unmatched amounts surface
// as pending instead of vanishing.
func BuildInputs(
	n *ingestion.Normalizer,
	fillRows map[string][]ingestion.RawRecord,
	fundingRows []ingestion.RawRecord,
	log zerolog.Logger,
	metrics *observability.Metrics,
) ([]Inputs, IngestReport) {
	report := IngestReport{
		SourceStats: make(map[string]ingestion.Stats, len(fillRows)),
	}

	sources := make([]string, 0, len(fillRows))
	for s := range fillRows {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	fillsByInstrument := make(map[string][]event.Fill)
	for _, source := range sources {
		fills, stats, err := n.Normalize(source, fillRows[source])
		report.SourceStats[source] = stats

		if metrics != nil {
			metrics.RowsNormalized.WithLabelValues(source).Add(float64(stats.Fills))
			metrics.RowsSkipped.WithLabelValues(source).Add(float64(stats.Skipped))
			metrics.ParseDefaults.WithLabelValues(source).Add(float64(stats.Defaulted))
		}

		if err != nil {
			report.SchemaErrors = append(report.SchemaErrors, err)
			if metrics != nil {
				metrics.SchemaFailures.WithLabelValues(source).Inc()
			}
			log.Error().Str("source", source).Err(err).Msg("source schema unresolvable, skipping source")
			continue
		}

		for i := range fills {
			fillsByInstrument[fills[i].Instrument] = append(fillsByInstrument[fills[i].Instrument], fills[i])
		}
	}

	paymentsByInstrument, fundingStats := n.ParseFundingRows(fundingRows)
	report.FundingStats = fundingStats

	names := make(map[string]struct{}, len(fillsByInstrument))
	for instrument := range fillsByInstrument {
		names[instrument] = struct{}{}
	}
	for instrument := range paymentsByInstrument {
		names[instrument] = struct{}{}
	}

	batch := make([]Inputs, 0, len(names))
	for instrument := range names {
		batch = append(batch, Inputs{
			Instrument: instrument,
			Fills:      fillsByInstrument[instrument],
			Payments:   paymentsByInstrument[instrument],
		})
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Instrument < batch[j].Instrument
	})

	return batch, report
}
