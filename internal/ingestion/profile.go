package ingestion

import "strings"

// RawRecord is one row of a source log: column name to raw cell value.
// Extra columns are carried but ignored.
type RawRecord map[string]string

// Profile is the resolved column mapping for one source schema. It is
// detected once per source, not per row.
type Profile struct {
	Market string // optional; empty means use the source default instrument
	Time   string
	Price  string
	Qty    string
	Side   string // optional; absent means the quantity's own sign is trusted
	Fee    string // optional
}

// Candidate column names per canonical field, tried in order,
// case-insensitive. Matches the union of both venues' export headers.
var (
	marketCandidates = []string{"market", "symbol", "market_name", "pair"}
	timeCandidates   = []string{"created_time", "timestamp", "time"}
	priceCandidates  = []string{"price", "avg_price", "fill_price"}
	qtyCandidates    = []string{"qty", "quantity", "size", "amount"}
	sideCandidates   = []string{"side", "taker_side", "direction"}
	feeCandidates    = []string{"fee", "fees", "maker_fee", "taker_fee"}
)

// matchedTradeColumns identify the matched-trade venue schema, where fills
// arrive as whole book trades and our side is derived from which account
// id is ours.
var matchedTradeColumns = []string{
	"ask_account_id", "bid_account_id", "is_maker_ask",
	"maker_fee", "taker_fee", "usd_amount", "timestamp", "price", "size",
}

func lowerHeaderIndex(headers []string) map[string]string {
	idx := make(map[string]string, len(headers))
	for _, h := range headers {
		idx[strings.ToLower(h)] = h
	}
	return idx
}

func pick(idx map[string]string, candidates []string) string {
	for _, c := range candidates {
		if h, ok := idx[c]; ok {
			return h
		}
	}
	return ""
}

// DetectColumns resolves a generic source schema into a Profile, or fails
// with a SchemaError naming the unresolvable required fields.
func DetectColumns(source string, headers []string) (*Profile, error) {
	idx := lowerHeaderIndex(headers)

	p := &Profile{
		Market: pick(idx, marketCandidates),
		Time:   pick(idx, timeCandidates),
		Price:  pick(idx, priceCandidates),
		Qty:    pick(idx, qtyCandidates),
		Side:   pick(idx, sideCandidates),
		Fee:    pick(idx, feeCandidates),
	}

	var missing []string
	if p.Time == "" {
		missing = append(missing, "time")
	}
	if p.Price == "" {
		missing = append(missing, "price")
	}
	if p.Qty == "" {
		missing = append(missing, "quantity")
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Source: source, Missing: missing}
	}
	return p, nil
}

// IsMatchedTradeSchema reports whether the headers carry the full
// matched-trade column set.
func IsMatchedTradeSchema(headers []string) bool {
	idx := lowerHeaderIndex(headers)
	for _, c := range matchedTradeColumns {
		if _, ok := idx[c]; !ok {
			return false
		}
	}
	return true
}

// DefaultInstrument derives the fallback instrument name for a source that
// has no market column. Bare base-asset names get a quote suffix.
func DefaultInstrument(source string) string {
	if strings.Contains(source, "-") {
		return source
	}
	return source + "-USD"
}
