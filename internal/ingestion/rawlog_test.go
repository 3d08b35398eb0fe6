package ingestion_test

import (
	"testing"

	"FillLedger/internal/ingestion"
)

// ============================================================================
// Test: RawStore
// ============================================================================

func TestRawStore_SnapshotIsIsolated(t *testing.T) {
	store := ingestion.NewRawStore()
	store.AppendFill("venue-a", ingestion.RawRecord{"qty": "1"})

	snap := store.SnapshotFills()
	store.AppendFill("venue-a", ingestion.RawRecord{"qty": "2"})

	if len(snap["venue-a"]) != 1 {
		t.Errorf("snapshot grew after later appends: got %d rows, want 1", len(snap["venue-a"]))
	}
	if len(store.SnapshotFills()["venue-a"]) != 2 {
		t.Errorf("store lost a row: got %d, want 2", len(store.SnapshotFills()["venue-a"]))
	}
}

func TestRawStore_FundingLog(t *testing.T) {
	store := ingestion.NewRawStore()
	store.AppendFunding(ingestion.RawRecord{"symbol": "BTC-PERP", "change": "-0.5"})
	store.AppendFunding(ingestion.RawRecord{"symbol": "ETH-PERP", "change": "0.25"})

	rows := store.SnapshotFunding()
	if len(rows) != 2 {
		t.Fatalf("got %d funding rows, want 2", len(rows))
	}
	if rows[0]["symbol"] != "BTC-PERP" {
		t.Errorf("append order lost: got %q first", rows[0]["symbol"])
	}
}

func TestRawStore_Sources(t *testing.T) {
	store := ingestion.NewRawStore()
	store.AppendFill("venue-a", ingestion.RawRecord{"qty": "1"})
	store.AppendFill("venue-b", ingestion.RawRecord{"qty": "1"})
	store.AppendFill("venue-a", ingestion.RawRecord{"qty": "2"})

	if got := store.Sources(); got != 2 {
		t.Errorf("sources: got %d, want 2", got)
	}
}
