package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/core"
	"FillLedger/internal/cycle"
	"FillLedger/internal/event"
	"FillLedger/internal/ingestion"
)

// --- Test helpers ---

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return v
}

func fill(t *testing.T, instrument string, seq int64, at time.Time, qty, price, fee string) event.Fill {
	t.Helper()
	return event.Fill{
		Instrument: instrument,
		Timestamp:  at,
		Quantity:   d(t, qty),
		Price:      d(t, price),
		Fee:        d(t, fee),
		Sequence:   seq,
	}
}

func newTestEngine(workers int) *core.Engine {
	return core.NewEngine(workers, 7*time.Hour, zerolog.Nop(), nil)
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============================================================================
// Test: Engine.Run
// ============================================================================

func TestEngine_FullPass(t *testing.T) {
	batch := []core.Inputs{
		{
			Instrument: "BTC-PERP",
			Fills: []event.Fill{
				fill(t, "BTC-PERP", 0, base, "10", "100", "1"),
				fill(t, "BTC-PERP", 1, base.Add(time.Hour), "-10", "110", "1"),
			},
			Payments: []event.FundingPayment{
				{Instrument: "BTC-PERP", Timestamp: base.Add(30 * time.Minute), Amount: d(t, "-0.5")},
			},
		},
		{
			Instrument: "ETH-PERP",
			Fills: []event.Fill{
				fill(t, "ETH-PERP", 0, base.Add(2*time.Hour), "5", "200", "0"),
			},
		},
	}

	res := newTestEngine(2).Run(context.Background(), batch)

	if res.Summary.Instruments != 2 {
		t.Errorf("instruments: got %d, want 2", res.Summary.Instruments)
	}
	if len(res.Summary.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Summary.Failed)
	}
	if res.Summary.Events != 3 {
		t.Errorf("events: got %d, want 3", res.Summary.Events)
	}
	if res.Summary.CyclesClosed != 1 || res.Summary.CyclesOpen != 1 {
		t.Errorf("cycles: got open=%d closed=%d, want 1/1", res.Summary.CyclesOpen, res.Summary.CyclesClosed)
	}

	// Per-instrument results are sorted by instrument name.
	if res.Instruments[0].Instrument != "BTC-PERP" || res.Instruments[1].Instrument != "ETH-PERP" {
		t.Errorf("instrument order: got %s,%s", res.Instruments[0].Instrument, res.Instruments[1].Instrument)
	}

	// The funding payment lands on the BTC close.
	btc := res.Instruments[0]
	if btc.Funding.Attached != 1 {
		t.Errorf("funding attached: got %d, want 1", btc.Funding.Attached)
	}
	if !btc.Events[1].FundingFees.Equal(d(t, "-0.5")) {
		t.Errorf("close funding: got %s, want -0.5", btc.Events[1].FundingFees)
	}

	// Merged ledger is newest first: the ETH add happened last.
	if res.Ledger[0].Instrument != "ETH-PERP" {
		t.Errorf("merged ledger head: got %s, want ETH-PERP", res.Ledger[0].Instrument)
	}

	// Merged cycles put the open ETH cycle first.
	if res.Cycles[0].Instrument != "ETH-PERP" || res.Cycles[0].Status != cycle.StatusOpen {
		t.Errorf("merged cycles head: got %s/%s", res.Cycles[0].Instrument, res.Cycles[0].Status)
	}

	if len(res.Daily) == 0 {
		t.Fatal("daily rollup is empty")
	}
}

func TestEngine_IdenticalInputsIdenticalOutputs(t *testing.T) {
	batch := []core.Inputs{
		{
			Instrument: "BTC-PERP",
			Fills: []event.Fill{
				fill(t, "BTC-PERP", 0, base, "10", "100", "1"),
				fill(t, "BTC-PERP", 1, base.Add(time.Hour), "-15", "105", "1.5"),
				fill(t, "BTC-PERP", 2, base.Add(2*time.Hour), "5", "95", "0.5"),
			},
		},
		{
			Instrument: "ETH-PERP",
			Fills: []event.Fill{
				fill(t, "ETH-PERP", 0, base, "3", "200", "0"),
				fill(t, "ETH-PERP", 1, base.Add(time.Hour), "-1", "210", "0"),
			},
		},
	}

	first := newTestEngine(4).Run(context.Background(), batch)
	second := newTestEngine(4).Run(context.Background(), batch)

	if len(first.Ledger) != len(second.Ledger) {
		t.Fatalf("ledger lengths differ: %d vs %d", len(first.Ledger), len(second.Ledger))
	}
	for i := range first.Ledger {
		a, b := first.Ledger[i], second.Ledger[i]
		if a.Instrument != b.Instrument || a.Kind != b.Kind ||
			!a.Quantity.Equal(b.Quantity) || !a.TradePnL.Equal(b.TradePnL) {
			t.Errorf("ledger row %d differs: %+v vs %+v", i, a, b)
		}
	}

	if len(first.Cycles) != len(second.Cycles) {
		t.Fatalf("cycle lengths differ: %d vs %d", len(first.Cycles), len(second.Cycles))
	}
	for i := range first.Cycles {
		if !first.Cycles[i].RealizedPnL.Equal(second.Cycles[i].RealizedPnL) {
			t.Errorf("cycle %d realized pnl differs", i)
		}
	}

	if len(first.Daily) != len(second.Daily) {
		t.Fatalf("daily lengths differ: %d vs %d", len(first.Daily), len(second.Daily))
	}
	for i := range first.Daily {
		if first.Daily[i].Date != second.Daily[i].Date {
			t.Errorf("daily row %d date differs", i)
		}
		if !first.Daily[i].RealizedPnL.Equal(second.Daily[i].RealizedPnL) {
			t.Errorf("daily row %d pnl differs", i)
		}
	}
}

func TestEngine_PendingFundingSurfacesInSummary(t *testing.T) {
	// Funding for an instrument with no closes stays pending.
	batch := []core.Inputs{
		{
			Instrument: "SOL-PERP",
			Fills: []event.Fill{
				fill(t, "SOL-PERP", 0, base, "10", "20", "0"),
			},
			Payments: []event.FundingPayment{
				{Instrument: "SOL-PERP", Timestamp: base.Add(time.Hour), Amount: d(t, "-0.125")},
			},
		},
	}

	res := newTestEngine(1).Run(context.Background(), batch)

	pending, ok := res.Summary.PendingFunding["SOL-PERP"]
	if !ok {
		t.Fatal("pending funding missing from summary")
	}
	if !pending.Equal(d(t, "-0.125")) {
		t.Errorf("pending: got %s, want -0.125", pending)
	}
}

func TestEngine_InstrumentsDoNotInfluenceEachOther(t *testing.T) {
	healthy := core.Inputs{
		Instrument: "ETH-PERP",
		Fills: []event.Fill{
			fill(t, "ETH-PERP", 0, base, "3", "200", "0.1"),
			fill(t, "ETH-PERP", 1, base.Add(time.Hour), "-3", "210", "0.1"),
		},
	}
	// Degenerate neighbor: fills already defaulted to zero by normalization.
	degenerate := core.Inputs{
		Instrument: "JUNK-PERP",
		Fills: []event.Fill{
			fill(t, "JUNK-PERP", 0, time.Unix(0, 0).UTC(), "0", "0", "0"),
		},
	}

	alone := newTestEngine(2).Run(context.Background(), []core.Inputs{healthy})
	together := newTestEngine(2).Run(context.Background(), []core.Inputs{degenerate, healthy})

	var ethAlone, ethTogether *core.InstrumentResult
	for i := range alone.Instruments {
		if alone.Instruments[i].Instrument == "ETH-PERP" {
			ethAlone = &alone.Instruments[i]
		}
	}
	for i := range together.Instruments {
		if together.Instruments[i].Instrument == "ETH-PERP" {
			ethTogether = &together.Instruments[i]
		}
	}
	if ethAlone == nil || ethTogether == nil {
		t.Fatal("ETH-PERP result missing")
	}

	if len(ethAlone.Events) != len(ethTogether.Events) {
		t.Fatalf("event counts differ: %d vs %d", len(ethAlone.Events), len(ethTogether.Events))
	}
	for i := range ethAlone.Events {
		if !ethAlone.Events[i].TradePnL.Equal(ethTogether.Events[i].TradePnL) ||
			!ethAlone.Events[i].RunningQty.Equal(ethTogether.Events[i].RunningQty) {
			t.Errorf("event %d differs with a degenerate neighbor present", i)
		}
	}
	if len(ethAlone.Cycles) != len(ethTogether.Cycles) {
		t.Errorf("cycle counts differ: %d vs %d", len(ethAlone.Cycles), len(ethTogether.Cycles))
	}
}

func TestEngine_EmptyBatch(t *testing.T) {
	res := newTestEngine(2).Run(context.Background(), nil)
	if res.Summary.Instruments != 0 || len(res.Ledger) != 0 || len(res.Cycles) != 0 {
		t.Errorf("empty batch produced output: %+v", res.Summary)
	}
}

// ============================================================================
// Test: BuildInputs
// ============================================================================

func TestBuildInputs_GroupsByInstrument(t *testing.T) {
	n := ingestion.NewNormalizer(zerolog.Nop(), "")
	fillRows := map[string][]ingestion.RawRecord{
		"venue-a": {
			{"market": "BTC-PERP", "timestamp": "1700000000", "price": "100", "qty": "1", "side": "BUY"},
			{"market": "ETH-PERP", "timestamp": "1700000000", "price": "200", "qty": "2", "side": "BUY"},
		},
	}

	batch, report := core.BuildInputs(n, fillRows, nil, zerolog.Nop(), nil)

	if len(batch) != 2 {
		t.Fatalf("got %d instruments, want 2", len(batch))
	}
	if batch[0].Instrument != "BTC-PERP" || batch[1].Instrument != "ETH-PERP" {
		t.Errorf("batch order: got %s,%s", batch[0].Instrument, batch[1].Instrument)
	}
	if report.SourceStats["venue-a"].Fills != 2 {
		t.Errorf("source stats: got %+v", report.SourceStats["venue-a"])
	}
}

func TestBuildInputs_SchemaFailureSkipsSourceOnly(t *testing.T) {
	n := ingestion.NewNormalizer(zerolog.Nop(), "")
	fillRows := map[string][]ingestion.RawRecord{
		"broken": {
			{"foo": "1", "bar": "2"},
		},
		"venue-a": {
			{"market": "BTC-PERP", "timestamp": "1700000000", "price": "100", "qty": "1"},
		},
	}

	batch, report := core.BuildInputs(n, fillRows, nil, zerolog.Nop(), nil)

	if len(report.SchemaErrors) != 1 {
		t.Fatalf("schema errors: got %d, want 1", len(report.SchemaErrors))
	}
	if len(batch) != 1 || batch[0].Instrument != "BTC-PERP" {
		t.Errorf("surviving batch: got %+v", batch)
	}
}

func TestBuildInputs_FundingOnlyInstrumentIncluded(t *testing.T) {
	n := ingestion.NewNormalizer(zerolog.Nop(), "")
	fundingRows := []ingestion.RawRecord{
		{"symbol": "DOGE-PERP", "time": "1700000000", "change": "0.5"},
	}

	batch, _ := core.BuildInputs(n, nil, fundingRows, zerolog.Nop(), nil)

	if len(batch) != 1 {
		t.Fatalf("got %d instruments, want 1", len(batch))
	}
	if batch[0].Instrument != "DOGE-PERP" {
		t.Errorf("instrument: got %q, want DOGE-PERP", batch[0].Instrument)
	}
	if len(batch[0].Fills) != 0 || len(batch[0].Payments) != 1 {
		t.Errorf("got %d fills, %d payments, want 0/1", len(batch[0].Fills), len(batch[0].Payments))
	}
}

// End-to-end: raw rows through BuildInputs into a pass.
func TestBuildInputsAndRun_PendingFundingNeverDropped(t *testing.T) {
	n := ingestion.NewNormalizer(zerolog.Nop(), "")
	fundingRows := []ingestion.RawRecord{
		{"symbol": "DOGE-PERP", "time": "1700000000", "change": "0.5"},
	}

	batch, _ := core.BuildInputs(n, nil, fundingRows, zerolog.Nop(), nil)
	res := newTestEngine(2).Run(context.Background(), batch)

	if !res.Summary.PendingFunding["DOGE-PERP"].Equal(d(t, "0.5")) {
		t.Errorf("pending funding: got %s, want 0.5", res.Summary.PendingFunding["DOGE-PERP"])
	}
}
