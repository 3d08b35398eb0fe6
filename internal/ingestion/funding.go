package ingestion

import (
	"strings"

	"FillLedger/internal/event"
)

// Funding rows are close to uniform across venues; only the symbol and
// amount column names vary.
var (
	fundingSymbolCandidates = []string{"symbol", "market", "instrument"}
	fundingAmountCandidates = []string{"change", "amount", "funding"}
)

// ParseFundingRows converts raw funding rows into payments grouped by
// instrument. Rows without a symbol or amount are skipped; an unparsable
// timestamp or amount defaults the field to zero with a warning, same as
// fill normalization.
func (n *Normalizer) ParseFundingRows(rows []RawRecord) (map[string][]event.FundingPayment, Stats) {
	var stats Stats
	out := make(map[string][]event.FundingPayment)

	for _, row := range rows {
		stats.Rows++

		var symCol, amtCol string
		idx := lowerHeaderIndex(keysOf(row))
		symCol = pick(idx, fundingSymbolCandidates)
		amtCol = pick(idx, fundingAmountCandidates)
		timeCol := pick(idx, timeCandidates)

		if symCol == "" || amtCol == "" || timeCol == "" {
			stats.Skipped++
			continue
		}

		sym := strings.TrimSpace(row[symCol])
		if sym == "" || strings.TrimSpace(row[amtCol]) == "" {
			stats.Skipped++
			continue
		}

		ts := n.parseTime("funding", row[timeCol], &stats)
		amount := n.parseField("funding", "amount", row[amtCol], &stats)

		out[sym] = append(out[sym], event.FundingPayment{
			Instrument: sym,
			Timestamp:  ts,
			Amount:     amount,
		})
	}

	return out, stats
}

func keysOf(row RawRecord) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	return keys
}
