package cycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
	"FillLedger/internal/ledger"
)

// Status of a cycle
type Status int32

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// Cycle is one full flat -> open -> flat round trip for an instrument, or
// the terminal still-open position if the event stream ends mid-cycle.
type Cycle struct {
	Instrument string
	EntryTime  time.Time
	ExitTime   time.Time // Zero while the cycle is open
	QtyOpened  decimal.Decimal
	QtyClosed  decimal.Decimal
	Side       event.Side

	// VWAPs re-derived from leg quantities and prices, independent of the
	// ledger's running averages, so rounding never compounds.
	AvgEntryPrice decimal.Decimal
	AvgExitPrice  decimal.Decimal

	TradePnL      decimal.Decimal
	TradingFees   decimal.Decimal
	FundingFees   decimal.Decimal
	FundingDetail []decimal.Decimal
	RealizedPnL   decimal.Decimal
	Status        Status
}

type accumulator struct {
	cycle         Cycle
	entryNotional decimal.Decimal
	entryQty      decimal.Decimal
	exitNotional  decimal.Decimal
	exitQty       decimal.Decimal
	active        bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		cycle: Cycle{
			QtyOpened:   decimal.Zero,
			QtyClosed:   decimal.Zero,
			TradePnL:    decimal.Zero,
			TradingFees: decimal.Zero,
			FundingFees: decimal.Zero,
		},
		entryNotional: decimal.Zero,
		entryQty:      decimal.Zero,
		exitNotional:  decimal.Zero,
		exitQty:       decimal.Zero,
	}
}

func (a *accumulator) absorb(ev *ledger.Event) {
	a.cycle.TradePnL = a.cycle.TradePnL.Add(ev.TradePnL)
	a.cycle.TradingFees = a.cycle.TradingFees.Add(ev.TradingFee)
	a.cycle.FundingFees = a.cycle.FundingFees.Add(ev.FundingFees)
	a.cycle.FundingDetail = append(a.cycle.FundingDetail, ev.FundingDetail...)
}

// Aggregate groups an instrument's time-ascending ledger events into cycles.
// A cycle begins on the first add after a flat state and ends when the
// running quantity returns to zero; a flip's close leg ends one cycle and
// its add leg starts the next.
func Aggregate(events []ledger.Event) ([]Cycle, error) {
	var cycles []Cycle

	runningQty := decimal.Zero
	acc := newAccumulator()

	for i := range events {
		ev := &events[i]

		if runningQty.IsZero() && ev.Kind.IsAdd() && !ev.Quantity.IsZero() {
			acc = newAccumulator()
			acc.active = true
			acc.cycle.Instrument = ev.Instrument
			acc.cycle.EntryTime = ev.Timestamp
			acc.cycle.Side = ev.Side()
		}

		switch {
		case ev.Kind.IsAdd():
			if !acc.active {
				// Zero-quantity audit row outside any cycle.
				continue
			}
			acc.cycle.QtyOpened = acc.cycle.QtyOpened.Add(ev.Quantity.Abs())
			acc.absorb(ev)
			runningQty = runningQty.Add(ev.Quantity)

			acc.entryNotional = acc.entryNotional.Add(ev.Quantity.Abs().Mul(ev.Price))
			acc.entryQty = acc.entryQty.Add(ev.Quantity.Abs())

		case ev.Kind.IsReduce() || ev.Kind.IsClose():
			if !acc.active {
				return nil, &ledger.InvariantViolation{
					Instrument: ev.Instrument,
					Detail:     fmt.Sprintf("%s event at %s outside any cycle", ev.Kind, ev.Timestamp.Format(time.RFC3339)),
				}
			}
			acc.cycle.QtyClosed = acc.cycle.QtyClosed.Add(ev.Quantity.Abs())
			acc.absorb(ev)
			runningQty = runningQty.Add(ev.Quantity)

			acc.exitNotional = acc.exitNotional.Add(ev.Quantity.Abs().Mul(ev.Price))
			acc.exitQty = acc.exitQty.Add(ev.Quantity.Abs())

			if runningQty.IsZero() {
				if !acc.cycle.QtyOpened.Equal(acc.cycle.QtyClosed) {
					return nil, &ledger.InvariantViolation{
						Instrument: ev.Instrument,
						Detail: fmt.Sprintf("cycle closed with qty_opened=%s qty_closed=%s",
							acc.cycle.QtyOpened, acc.cycle.QtyClosed),
					}
				}
				cycles = append(cycles, acc.finalize(ev.Timestamp, StatusClosed))
				acc = newAccumulator()
			}
		}
	}

	// Stream ended mid-position: emit the terminal open cycle.
	if acc.active {
		cycles = append(cycles, acc.finalize(time.Time{}, StatusOpen))
	}

	return cycles, nil
}

func (a *accumulator) finalize(exit time.Time, status Status) Cycle {
	c := a.cycle
	c.ExitTime = exit
	c.Status = status

	if !a.entryQty.IsZero() {
		c.AvgEntryPrice = a.entryNotional.Div(a.entryQty)
	} else {
		c.AvgEntryPrice = decimal.Zero
	}
	if !a.exitQty.IsZero() {
		c.AvgExitPrice = a.exitNotional.Div(a.exitQty)
	} else {
		c.AvgExitPrice = decimal.Zero
	}

	c.RealizedPnL = c.TradePnL.Sub(c.TradingFees).Add(c.FundingFees)
	return c
}

// SortForView orders cycles for presentation: open cycles first, then by
// exit time descending, then entry time descending.
func SortForView(cycles []Cycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		a, b := &cycles[i], &cycles[j]
		aOpen := a.Status == StatusOpen
		bOpen := b.Status == StatusOpen
		if aOpen != bOpen {
			return aOpen
		}
		if !a.ExitTime.Equal(b.ExitTime) {
			return a.ExitTime.After(b.ExitTime)
		}
		return a.EntryTime.After(b.EntryTime)
	})
}
