package cycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/cycle"
	"FillLedger/internal/event"
	"FillLedger/internal/ledger"
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

func fill(t *testing.T, seq int64, at time.Time, qty, price, fee string) event.Fill {
	t.Helper()
	return event.Fill{
		Instrument: "ETH-PERP",
		Timestamp:  at,
		Quantity:   d(t, qty),
		Price:      d(t, price),
		Fee:        d(t, fee),
		Sequence:   seq,
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============================================================================
// Test: Aggregate
// ============================================================================

func TestAggregate_SingleClosedCycle(t *testing.T) {
	events := ledger.Replay("ETH-PERP", []event.Fill{
		fill(t, 0, base, "10", "100", "1"),
		fill(t, 1, base.Add(time.Hour), "-10", "110", "1"),
	})

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}

	c := cycles[0]
	if c.Status != cycle.StatusClosed {
		t.Errorf("status: got %s, want CLOSED", c.Status)
	}
	if !c.QtyOpened.Equal(d(t, "10")) || !c.QtyClosed.Equal(d(t, "10")) {
		t.Errorf("quantities: got opened=%s closed=%s, want 10/10", c.QtyOpened, c.QtyClosed)
	}
	if !c.AvgEntryPrice.Equal(d(t, "100")) {
		t.Errorf("avg entry: got %s, want 100", c.AvgEntryPrice)
	}
	if !c.AvgExitPrice.Equal(d(t, "110")) {
		t.Errorf("avg exit: got %s, want 110", c.AvgExitPrice)
	}
	if !c.TradePnL.Equal(d(t, "100")) {
		t.Errorf("trade pnl: got %s, want 100", c.TradePnL)
	}
	if !c.TradingFees.Equal(d(t, "2")) {
		t.Errorf("trading fees: got %s, want 2", c.TradingFees)
	}
	// trade pnl - fees + funding
	if !c.RealizedPnL.Equal(d(t, "98")) {
		t.Errorf("realized pnl: got %s, want 98", c.RealizedPnL)
	}
	if !c.ExitTime.Equal(base.Add(time.Hour)) {
		t.Errorf("exit time: got %s, want %s", c.ExitTime, base.Add(time.Hour))
	}
	if c.Side != event.SideLong {
		t.Errorf("side: got %s, want LONG", c.Side)
	}
}

func TestAggregate_TerminalOpenCycle(t *testing.T) {
	events := ledger.Replay("ETH-PERP", []event.Fill{
		fill(t, 0, base, "-4", "200", "0"),
	})

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}

	c := cycles[0]
	if c.Status != cycle.StatusOpen {
		t.Errorf("status: got %s, want OPEN", c.Status)
	}
	if !c.ExitTime.IsZero() {
		t.Errorf("open cycle exit time should be zero, got %s", c.ExitTime)
	}
	if c.Side != event.SideShort {
		t.Errorf("side: got %s, want SHORT", c.Side)
	}
	if !c.QtyOpened.Equal(d(t, "4")) {
		t.Errorf("qty opened: got %s, want 4", c.QtyOpened)
	}
}

func TestAggregate_FlipStartsNewCycle(t *testing.T) {
	events := ledger.Replay("ETH-PERP", []event.Fill{
		fill(t, 0, base, "10", "100", "0"),
		fill(t, 1, base.Add(time.Hour), "-15", "105", "0"),
		fill(t, 2, base.Add(2*time.Hour), "5", "95", "0"),
	})

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}

	long := cycles[0]
	if long.Side != event.SideLong || long.Status != cycle.StatusClosed {
		t.Errorf("first cycle: got side=%s status=%s, want LONG/CLOSED", long.Side, long.Status)
	}
	if !long.TradePnL.Equal(d(t, "50")) {
		t.Errorf("long pnl: got %s, want 50", long.TradePnL)
	}

	short := cycles[1]
	if short.Side != event.SideShort || short.Status != cycle.StatusClosed {
		t.Errorf("second cycle: got side=%s status=%s, want SHORT/CLOSED", short.Side, short.Status)
	}
	if !short.QtyOpened.Equal(d(t, "5")) || !short.QtyClosed.Equal(d(t, "5")) {
		t.Errorf("short quantities: got %s/%s, want 5/5", short.QtyOpened, short.QtyClosed)
	}
	if !short.TradePnL.Equal(d(t, "50")) {
		t.Errorf("short pnl: got %s, want 50", short.TradePnL)
	}
	if !short.EntryTime.Equal(base.Add(time.Hour)) {
		t.Errorf("short entry time: got %s, want flip time", short.EntryTime)
	}
}

func TestAggregate_VWAPAcrossLegs(t *testing.T) {
	events := ledger.Replay("ETH-PERP", []event.Fill{
		fill(t, 0, base, "10", "100", "0"),
		fill(t, 1, base.Add(time.Minute), "10", "200", "0"),
		fill(t, 2, base.Add(time.Hour), "-20", "180", "0"),
	})

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}

	c := cycles[0]
	if !c.AvgEntryPrice.Equal(d(t, "150")) {
		t.Errorf("entry vwap: got %s, want 150", c.AvgEntryPrice)
	}
	if !c.AvgExitPrice.Equal(d(t, "180")) {
		t.Errorf("exit vwap: got %s, want 180", c.AvgExitPrice)
	}
	if !c.TradePnL.Equal(d(t, "600")) {
		t.Errorf("trade pnl: got %s, want 600", c.TradePnL)
	}
}

func TestAggregate_ZeroQtyAuditOutsideCycle(t *testing.T) {
	// A zero-quantity audit row while flat must not open or corrupt a cycle.
	events := ledger.Replay("ETH-PERP", []event.Fill{
		fill(t, 0, base, "0", "100", "0"),
		fill(t, 1, base.Add(time.Minute), "10", "100", "0"),
		fill(t, 2, base.Add(time.Hour), "-10", "110", "0"),
	})

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}
	if !cycles[0].EntryTime.Equal(base.Add(time.Minute)) {
		t.Errorf("entry time: got %s, want first non-zero add", cycles[0].EntryTime)
	}
}

func TestAggregate_ReduceOutsideCycleFails(t *testing.T) {
	events := []ledger.Event{
		{
			Instrument: "ETH-PERP",
			Timestamp:  base,
			Kind:       ledger.KindReduceLong,
			Quantity:   d(t, "-5"),
			Price:      d(t, "100"),
		},
	}

	_, err := cycle.Aggregate(events)
	if err == nil {
		t.Fatal("expected error for reduce outside a cycle")
	}
	var iv *ledger.InvariantViolation
	if !errors.As(err, &iv) {
		t.Errorf("got %T, want *ledger.InvariantViolation", err)
	}
}

// ============================================================================
// Test: SortForView
// ============================================================================

func TestSortForView_OpenFirstThenExitDesc(t *testing.T) {
	cycles := []cycle.Cycle{
		{Instrument: "a", Status: cycle.StatusClosed, EntryTime: base, ExitTime: base.Add(time.Hour)},
		{Instrument: "b", Status: cycle.StatusClosed, EntryTime: base, ExitTime: base.Add(2 * time.Hour)},
		{Instrument: "c", Status: cycle.StatusOpen, EntryTime: base.Add(time.Minute)},
	}

	cycle.SortForView(cycles)

	if cycles[0].Instrument != "c" {
		t.Errorf("first: got %s, want the open cycle", cycles[0].Instrument)
	}
	if cycles[1].Instrument != "b" || cycles[2].Instrument != "a" {
		t.Errorf("closed order: got %s,%s, want b,a (exit desc)", cycles[1].Instrument, cycles[2].Instrument)
	}
}
