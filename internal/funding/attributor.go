package funding

import (
	"sort"

	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
	"FillLedger/internal/ledger"
)

// Result summarizes one attribution pass over an instrument.
type Result struct {
	Attached     int             // Payments attached to a ledger event
	Pending      decimal.Decimal // Amount left unmatched at end of stream
	PendingCount int             // Payments making up the pending amount
}

// Attribute matches an instrument's funding payments onto its ledger events.
//
// Funding accrues continuously but is only meaningfully attributable once a
// position's economic outcome is known, so each payment lands on the first
// reduce/close event at or after the payment's timestamp. Payments that
// precede any qualifying event ride along in a pending accumulator and are
// folded into the next match; whatever is still pending when the stream ends
// is returned, never dropped. Events must be in ascending time order, as
// produced by ledger.Replay.
func Attribute(events []ledger.Event, payments []event.FundingPayment) Result {
	res := Result{Pending: decimal.Zero}
	if len(payments) == 0 {
		return res
	}

	sorted := make([]event.FundingPayment, len(payments))
	copy(sorted, payments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	pendingSum := decimal.Zero
	var pendingDetail []decimal.Decimal

	// Events and payments are both time-ascending, so the match index only
	// moves forward. Several payments may land on the same close event.
	idx := 0
	for _, p := range sorted {
		for idx < len(events) {
			ev := &events[idx]
			if (ev.Kind.IsClose() || ev.Kind.IsReduce()) && !ev.Timestamp.Before(p.Timestamp) {
				break
			}
			idx++
		}

		if idx == len(events) {
			pendingSum = pendingSum.Add(p.Amount)
			pendingDetail = append(pendingDetail, p.Amount)
			continue
		}

		ev := &events[idx]
		ev.FundingFees = ev.FundingFees.Add(pendingSum).Add(p.Amount)
		ev.FundingDetail = append(ev.FundingDetail, pendingDetail...)
		ev.FundingDetail = append(ev.FundingDetail, p.Amount)

		res.Attached += 1 + len(pendingDetail)
		pendingSum = decimal.Zero
		pendingDetail = nil
	}

	res.Pending = pendingSum
	res.PendingCount = len(pendingDetail)
	return res
}
