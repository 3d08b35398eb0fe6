package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side represents position direction
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// Fill is one executed trade on a venue, already normalized into the
// canonical schema. Quantity sign encodes direction: positive buys, negative
// sells. Fee is a positive cost in quote currency.
type Fill struct {
	FillID     uuid.UUID // Assigned at normalization when the source has no id
	Instrument string
	Timestamp  time.Time // Exchange time, reduced to UTC
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Sequence   int64 // Append order within the source; same-timestamp tie-break
}

// Direction returns the side this fill pushes the position toward.
func (f *Fill) Direction() Side {
	switch f.Quantity.Sign() {
	case 1:
		return SideLong
	case -1:
		return SideShort
	default:
		return SideFlat
	}
}

// FundingPayment is one periodic venue-assessed cash flow for holding a
// perpetual position. Amount is signed: positive credits the account.
type FundingPayment struct {
	Instrument string
	Timestamp  time.Time
	Amount     decimal.Decimal
}
