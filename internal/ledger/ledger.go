package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
	fpmath "FillLedger/internal/math"
)

// State is the per-instrument FIFO accounting state machine. It consumes
// fills in ascending time order and emits ledger events. Instruments never
// share a State, so replays for different instruments can run concurrently.
type State struct {
	instrument string

	runningQty decimal.Decimal
	avgEntry   decimal.Decimal
	avgExit    decimal.Decimal
	exitQtyAcc decimal.Decimal
}

func NewState(instrument string) *State {
	return &State{
		instrument: instrument,
		runningQty: decimal.Zero,
		avgEntry:   decimal.Zero,
		avgExit:    decimal.Zero,
		exitQtyAcc: decimal.Zero,
	}
}

// RunningQty returns the current signed position size.
func (s *State) RunningQty() decimal.Decimal {
	return s.runningQty
}

// IsFlat returns true if the position has no exposure.
func (s *State) IsFlat() bool {
	return s.runningQty.IsZero()
}

func (s *State) reset() {
	s.runningQty = decimal.Zero
	s.avgEntry = decimal.Zero
	s.avgExit = decimal.Zero
	s.exitQtyAcc = decimal.Zero
}

// Apply consumes one fill and returns the resulting ledger events: one for
// an add, reduce, or close, two for a flip (close leg then add leg).
func (s *State) Apply(f event.Fill) []Event {
	qty := f.Quantity
	price := f.Price
	fee := f.Fee

	// Case 0: zero-quantity fill (fee-only or correction record). Emit a
	// no-op add so the audit trail keeps the row; state is untouched.
	if qty.IsZero() {
		kind := KindAddLong
		if s.runningQty.Sign() < 0 {
			kind = KindAddShort
		}
		return []Event{s.emit(f, kind, decimal.Zero, price, decimal.Zero, decimal.Zero, false)}
	}

	// Case 1: flat position -> open new
	if s.IsFlat() {
		s.avgEntry = price
		s.runningQty = qty
		kind := KindAddLong
		if qty.Sign() < 0 {
			kind = KindAddShort
		}
		return []Event{s.emit(f, kind, qty, price, decimal.Zero, fee, false)}
	}

	wasLong := s.runningQty.Sign() > 0
	sameSide := wasLong == (qty.Sign() > 0)

	// Case 2: same side -> increase position, recompute weighted entry
	if sameSide {
		s.avgEntry = fpmath.WeightedAverage(s.runningQty.Abs(), s.avgEntry, qty.Abs(), price)
		s.runningQty = s.runningQty.Add(qty)
		kind := KindAddLong
		if s.runningQty.Sign() < 0 {
			kind = KindAddShort
		}
		return []Event{s.emit(f, kind, qty, price, decimal.Zero, fee, false)}
	}

	// Case 3: opposite side -> reduce, close, or flip
	switch qty.Abs().Cmp(s.runningQty.Abs()) {
	case -1: // partial close
		closeQty := qty.Abs()
		pnl := fpmath.ClosePnL(closeQty, price, s.avgEntry, wasLong)
		s.avgExit = fpmath.WeightedAverage(s.exitQtyAcc, s.avgExit, closeQty, price)
		s.exitQtyAcc = s.exitQtyAcc.Add(closeQty)
		s.runningQty = s.runningQty.Add(qty)

		kind := KindReduceLong
		if !wasLong {
			kind = KindReduceShort
		}
		return []Event{s.emit(f, kind, qty, price, pnl, fee, false)}

	case 0: // full close
		closeQty := qty.Abs()
		pnl := fpmath.ClosePnL(closeQty, price, s.avgEntry, wasLong)
		s.avgExit = fpmath.WeightedAverage(s.exitQtyAcc, s.avgExit, closeQty, price)
		s.exitQtyAcc = s.exitQtyAcc.Add(closeQty)

		kind := KindCloseLong
		if !wasLong {
			kind = KindCloseShort
		}
		entry, exit := s.avgEntry, s.avgExit
		s.reset()
		ev := s.emit(f, kind, qty, price, pnl, fee, false)
		ev.AvgEntry = entry
		ev.AvgExit = exit
		return []Event{ev}

	default: // flip: close the entire prior position, open the residual
		closeQty := s.runningQty.Abs()
		totalAbs := qty.Abs()

		feeClose := fee.Mul(closeQty).Div(totalAbs)
		feeAdd := fee.Sub(feeClose)

		pnl := fpmath.ClosePnL(closeQty, price, s.avgEntry, wasLong)
		s.avgExit = fpmath.WeightedAverage(s.exitQtyAcc, s.avgExit, closeQty, price)
		s.exitQtyAcc = s.exitQtyAcc.Add(closeQty)

		closeKind := KindCloseLong
		if !wasLong {
			closeKind = KindCloseShort
		}
		closeDelta := s.runningQty.Neg()
		entry, exit := s.avgEntry, s.avgExit
		s.reset()
		closeEv := s.emit(f, closeKind, closeDelta, price, pnl, feeClose, true)
		closeEv.AvgEntry = entry
		closeEv.AvgExit = exit

		leftover := totalAbs.Sub(closeQty)
		if qty.Sign() < 0 {
			leftover = leftover.Neg()
		}
		s.runningQty = leftover
		s.avgEntry = price

		addKind := KindAddLong
		if leftover.Sign() < 0 {
			addKind = KindAddShort
		}
		addEv := s.emit(f, addKind, leftover, price, decimal.Zero, feeAdd, true)

		return []Event{closeEv, addEv}
	}
}

func (s *State) emit(f event.Fill, kind Kind, qty, price, pnl, fee decimal.Decimal, flipLeg bool) Event {
	return Event{
		Instrument:  s.instrument,
		Timestamp:   f.Timestamp,
		Kind:        kind,
		Quantity:    qty,
		Price:       price,
		TradePnL:    pnl,
		TradingFee:  fee,
		FundingFees: decimal.Zero,
		RunningQty:  s.runningQty,
		AvgEntry:    s.avgEntry,
		AvgExit:     s.avgExit,
		FlipLeg:     flipLeg,
	}
}

// Replay reconstructs the full ledger for one instrument from scratch.
// Fills are sorted by exchange time with the normalization sequence as the
// deterministic tie-break, so re-runs over the same log are byte-stable.
func Replay(instrument string, fills []event.Fill) []Event {
	sorted := make([]event.Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})

	state := NewState(instrument)
	events := make([]Event, 0, len(sorted))
	for _, f := range sorted {
		events = append(events, state.Apply(f)...)
	}
	return events
}
