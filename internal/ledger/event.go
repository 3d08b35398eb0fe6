package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
)

// Kind discriminates ledger event types
type Kind int32

const (
	KindUnknown Kind = iota
	KindAddLong
	KindAddShort
	KindReduceLong
	KindReduceShort
	KindCloseLong
	KindCloseShort
)

func (k Kind) String() string {
	switch k {
	case KindAddLong:
		return "ADD_LONG"
	case KindAddShort:
		return "ADD_SHORT"
	case KindReduceLong:
		return "REDUCE_LONG"
	case KindReduceShort:
		return "REDUCE_SHORT"
	case KindCloseLong:
		return "CLOSE_LONG"
	case KindCloseShort:
		return "CLOSE_SHORT"
	default:
		return "UNKNOWN"
	}
}

// IsAdd reports whether the event opens or increases a position.
func (k Kind) IsAdd() bool {
	return k == KindAddLong || k == KindAddShort
}

// IsReduce reports whether the event partially closes a position.
func (k Kind) IsReduce() bool {
	return k == KindReduceLong || k == KindReduceShort
}

// IsClose reports whether the event flattens a position.
func (k Kind) IsClose() bool {
	return k == KindCloseLong || k == KindCloseShort
}

// ViewPriority orders same-timestamp events in presentation views:
// closes before reduces before adds.
func (k Kind) ViewPriority() int {
	switch {
	case k.IsClose():
		return 0
	case k.IsReduce():
		return 1
	case k.IsAdd():
		return 2
	default:
		return 9
	}
}

// Event is one row of the reconstructed ledger: the effect of a single fill
// (or one leg of a flip) on the running position.
type Event struct {
	Instrument string
	Timestamp  time.Time
	Kind       Kind
	Quantity   decimal.Decimal // Signed delta applied to the running position
	Price      decimal.Decimal
	TradePnL   decimal.Decimal // Realized on the closed slice; zero for adds
	TradingFee decimal.Decimal

	// Funding attribution, filled in after reconstruction.
	FundingFees   decimal.Decimal
	FundingDetail []decimal.Decimal

	// Running state after applying this event.
	RunningQty decimal.Decimal
	AvgEntry   decimal.Decimal
	AvgExit    decimal.Decimal

	// FlipLeg marks the two events a position flip decomposes into.
	FlipLeg bool
}

// RealizedPnL is the economic outcome of the event once funding is attached:
// trade PnL net of trading fees plus signed funding.
func (e *Event) RealizedPnL() decimal.Decimal {
	return e.TradePnL.Sub(e.TradingFee).Add(e.FundingFees)
}

// Side returns the position side this event belongs to.
func (e *Event) Side() event.Side {
	switch e.Kind {
	case KindAddLong, KindReduceLong, KindCloseLong:
		return event.SideLong
	case KindAddShort, KindReduceShort, KindCloseShort:
		return event.SideShort
	default:
		return event.SideFlat
	}
}
