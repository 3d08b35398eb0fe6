package math

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DisplayScale is the number of fractional digits kept at the serialization
// boundary. All intermediate arithmetic runs at full decimal precision;
// rounding happens exactly once, on output.
const DisplayScale = 8

func init() {
	// Division is the only lossy decimal operation. 28 digits keeps weighted
	// averages stable across tens of thousands of fills.
	decimal.DivisionPrecision = 28
}

// ParseDecimal converts a raw field into a decimal. Venue exports are messy:
// thousands separators, surrounding whitespace, and empty cells all occur.
// An empty or missing value parses as zero; a malformed value returns an
// error so the caller can decide whether to default it.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	return d, nil
}

// Epoch magnitude cut-offs. An epoch value below 10^11 is seconds (that
// threshold is the year 5138), below 10^14 milliseconds, below 10^17
// microseconds, anything larger nanoseconds.
const (
	epochMilliFloor = 100_000_000_000
	epochMicroFloor = 100_000_000_000_000
	epochNanoFloor  = 100_000_000_000_000_000
)

// ParseEpoch converts a raw timestamp field into UTC time. Venues disagree
// on the epoch unit, so the magnitude of the value decides. Fractional
// second strings ("1700000000.25") are truncated to whole seconds.
func ParseEpoch(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse epoch: empty value")
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("parse epoch %q: %w", raw, err)
		}
		v = int64(f)
	}

	neg := v < 0
	abs := v
	if neg {
		abs = -abs
	}

	var t time.Time
	switch {
	case abs >= epochNanoFloor:
		t = time.Unix(0, v)
	case abs >= epochMicroFloor:
		t = time.UnixMicro(v)
	case abs >= epochMilliFloor:
		t = time.UnixMilli(v)
	default:
		t = time.Unix(v, 0)
	}
	return t.UTC(), nil
}

// WeightedAverage recomputes a running volume-weighted average after a new
// slice of size addQty at the given price joins an accumulated slice of size
// oldQty at average oldAvg. Quantities must be non-negative magnitudes.
func WeightedAverage(oldQty, oldAvg, addQty, price decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(addQty)
	if total.IsZero() {
		return decimal.Zero
	}
	return oldQty.Mul(oldAvg).Add(addQty.Mul(price)).Div(total)
}

// ClosePnL returns the realized profit of closing closeQty (a positive
// magnitude) at exitPrice against an average entry of avgEntry.
func ClosePnL(closeQty, exitPrice, avgEntry decimal.Decimal, wasLong bool) decimal.Decimal {
	if wasLong {
		return closeQty.Mul(exitPrice.Sub(avgEntry))
	}
	return closeQty.Mul(avgEntry.Sub(exitPrice))
}

// Display renders a decimal at the fixed output scale. This is the only
// place rounding is applied.
func Display(d decimal.Decimal) string {
	return d.StringFixed(DisplayScale)
}
