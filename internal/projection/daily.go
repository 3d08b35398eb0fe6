package projection

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
	"FillLedger/internal/ledger"
)

// DailyStat is one row of the date-bucketed rollup.
type DailyStat struct {
	Date        string // ISO calendar date after applying the source offset
	RealizedPnL decimal.Decimal
	Funding     decimal.Decimal
	Volume      decimal.Decimal
}

const dateLayout = "2006-01-02"

// BuildDaily buckets ledger events and funding payments by calendar date.
// Timestamps are UTC; sourceOffset is the fixed venue-local offset applied
// before bucketing so days line up with the desk's reporting timezone.
// PnL is trade PnL net of trading fees; funding is summed separately on the
// payment's own date; volume is |qty| * price over every leg.
func BuildDaily(events []ledger.Event, payments []event.FundingPayment, sourceOffset time.Duration) []DailyStat {
	type bucket struct {
		pnl     decimal.Decimal
		funding decimal.Decimal
		volume  decimal.Decimal
	}

	buckets := make(map[string]*bucket)
	get := func(t time.Time) *bucket {
		key := t.UTC().Add(sourceOffset).Format(dateLayout)
		b := buckets[key]
		if b == nil {
			b = &bucket{pnl: decimal.Zero, funding: decimal.Zero, volume: decimal.Zero}
			buckets[key] = b
		}
		return b
	}

	for i := range events {
		ev := &events[i]
		b := get(ev.Timestamp)
		b.pnl = b.pnl.Add(ev.TradePnL).Sub(ev.TradingFee)
		b.volume = b.volume.Add(ev.Quantity.Abs().Mul(ev.Price))
	}

	for i := range payments {
		p := &payments[i]
		b := get(p.Timestamp)
		b.funding = b.funding.Add(p.Amount)
	}

	out := make([]DailyStat, 0, len(buckets))
	for date, b := range buckets {
		out = append(out, DailyStat{
			Date:        date,
			RealizedPnL: b.pnl,
			Funding:     b.funding,
			Volume:      b.volume,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})

	return out
}
