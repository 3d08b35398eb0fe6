package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/event"
	fpmath "FillLedger/internal/math"
)

// Normalizer maps heterogeneous raw rows into canonical fills. It is a pure
// per-record mapping: a bad field defaults to zero with a warning, a bad row
// never aborts the batch.
type Normalizer struct {
	log zerolog.Logger

	// accountID identifies our side in matched-trade rows, which report the
	// whole book trade rather than our fill.
	accountID string
}

func NewNormalizer(log zerolog.Logger, accountID string) *Normalizer {
	return &Normalizer{log: log, accountID: accountID}
}

// Stats counts what happened to a source's rows during normalization.
type Stats struct {
	Rows      int // Rows seen
	Fills     int // Fills produced
	Defaulted int // Fields substituted with zero after a parse failure
	Skipped   int // Rows not ours (matched-trade) or unusable
}

var microScale = decimal.NewFromInt(1_000_000)

// Normalize converts one source's rows into fills, auto-selecting between
// the matched-trade schema and generic column detection. A SchemaError is
// fatal for the source only.
func (n *Normalizer) Normalize(source string, rows []RawRecord) ([]event.Fill, Stats, error) {
	var stats Stats
	if len(rows) == 0 {
		return nil, stats, nil
	}

	headers := make([]string, 0, len(rows[0]))
	for h := range rows[0] {
		headers = append(headers, h)
	}

	if IsMatchedTradeSchema(headers) {
		return n.normalizeMatched(source, rows, headers)
	}

	profile, err := DetectColumns(source, headers)
	if err != nil {
		return nil, stats, err
	}
	return n.normalizeGeneric(source, rows, profile)
}

func (n *Normalizer) normalizeGeneric(source string, rows []RawRecord, p *Profile) ([]event.Fill, Stats, error) {
	var stats Stats
	fills := make([]event.Fill, 0, len(rows))

	for i, row := range rows {
		stats.Rows++

		instrument := DefaultInstrument(source)
		if p.Market != "" {
			if m := strings.TrimSpace(row[p.Market]); m != "" {
				instrument = m
			}
		}

		ts := n.parseTime(source, row[p.Time], &stats)
		price := n.parseField(source, "price", row[p.Price], &stats)

		fee := decimal.Zero
		if p.Fee != "" {
			fee = n.parseField(source, "fee", row[p.Fee], &stats)
		}

		qty := n.resolveSignedQty(source, row, p, &stats)

		fills = append(fills, event.Fill{
			FillID:     fillID(source, int64(i)),
			Instrument: instrument,
			Timestamp:  ts,
			Quantity:   qty,
			Price:      price,
			Fee:        fee,
			Sequence:   int64(i),
		})
		stats.Fills++
	}

	return fills, stats, nil
}

// resolveSignedQty applies the side convention: an explicit side field wins
// over the quantity's own sign; an unrecognized side value falls back to the
// signed quantity as given.
func (n *Normalizer) resolveSignedQty(source string, row RawRecord, p *Profile, stats *Stats) decimal.Decimal {
	raw := n.parseField(source, "quantity", row[p.Qty], stats)
	if p.Side == "" {
		return raw
	}

	switch strings.ToUpper(strings.TrimSpace(row[p.Side])) {
	case "BUY", "LONG", "BID":
		return raw.Abs()
	case "SELL", "SHORT", "ASK":
		return raw.Abs().Neg()
	default:
		return raw
	}
}

func (n *Normalizer) normalizeMatched(source string, rows []RawRecord, headers []string) ([]event.Fill, Stats, error) {
	var stats Stats
	idx := lowerHeaderIndex(headers)

	colTime := idx["timestamp"]
	colPrice := idx["price"]
	colSize := idx["size"]
	colMakerFee := idx["maker_fee"]
	colTakerFee := idx["taker_fee"]
	colAskAcc := idx["ask_account_id"]
	colBidAcc := idx["bid_account_id"]
	colMakerAsk := idx["is_maker_ask"]
	colUSD := idx["usd_amount"]

	instrument := DefaultInstrument(source)
	fills := make([]event.Fill, 0, len(rows))
	seq := int64(0)

	for _, row := range rows {
		stats.Rows++

		askID := strings.TrimSpace(row[colAskAcc])
		bidID := strings.TrimSpace(row[colBidAcc])
		if askID != n.accountID && bidID != n.accountID {
			stats.Skipped++
			continue
		}

		ts := n.parseTime(source, row[colTime], &stats)
		price := n.parseField(source, "price", row[colPrice], &stats)
		sizeAbs := n.parseField(source, "size", row[colSize], &stats).Abs()
		usd := n.parseField(source, "usd_amount", row[colUSD], &stats)
		isMakerAsk := strings.EqualFold(strings.TrimSpace(row[colMakerAsk]), "true")

		// Our ask means we sold; our bid means we bought. Maker role follows
		// from which side of the book we were on.
		var qty decimal.Decimal
		var iAmMaker bool
		if askID == n.accountID {
			qty = sizeAbs.Neg()
			iAmMaker = isMakerAsk
		} else {
			qty = sizeAbs
			iAmMaker = !isMakerAsk
		}

		rateCol := colTakerFee
		rateName := "taker_fee"
		if iAmMaker {
			rateCol = colMakerFee
			rateName = "maker_fee"
		}
		rate := n.parseField(source, rateName, row[rateCol], &stats)

		// Fee rates come in millionths of the traded notional.
		fee := usd.Mul(rate.Div(microScale))

		fills = append(fills, event.Fill{
			FillID:     fillID(source, seq),
			Instrument: instrument,
			Timestamp:  ts,
			Quantity:   qty,
			Price:      price,
			Fee:        fee,
			Sequence:   seq,
		})
		seq++
		stats.Fills++
	}

	return fills, stats, nil
}

func (n *Normalizer) parseField(source, field, raw string, stats *Stats) decimal.Decimal {
	d, err := fpmath.ParseDecimal(raw)
	if err != nil {
		perr := &ParseError{Field: field, Value: raw, Err: err}
		n.log.Warn().Str("source", source).Err(perr).Msg("field unparsable, defaulting to zero")
		stats.Defaulted++
		return decimal.Zero
	}
	return d
}

func (n *Normalizer) parseTime(source, raw string, stats *Stats) time.Time {
	t, err := fpmath.ParseEpoch(raw)
	if err != nil {
		perr := &ParseError{Field: "time", Value: raw, Err: err}
		n.log.Warn().Str("source", source).Err(perr).Msg("timestamp unparsable, defaulting to epoch zero")
		stats.Defaulted++
		return time.Unix(0, 0).UTC()
	}
	return t
}

// fillID derives a stable id for sources that carry none, so repeated
// passes over the same log produce identical fills.
func fillID(source string, seq int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("fill:%s:%d", source, seq)))
}
