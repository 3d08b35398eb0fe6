package projection

import (
	"sort"

	"FillLedger/internal/cycle"
	"FillLedger/internal/ledger"
)

// MergeLedger concatenates per-instrument ledger events into the
// all-instruments presentation view: newest first, closes before reduces
// before adds at the same timestamp, larger quantities first, instrument
// name as the final tie-break so merge order never leaks map iteration.
func MergeLedger(perInstrument [][]ledger.Event) []ledger.Event {
	var total int
	for _, evs := range perInstrument {
		total += len(evs)
	}

	merged := make([]ledger.Event, 0, total)
	for _, evs := range perInstrument {
		merged = append(merged, evs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := &merged[i], &merged[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if ap, bp := a.Kind.ViewPriority(), b.Kind.ViewPriority(); ap != bp {
			return ap < bp
		}
		if qa, qb := a.Quantity.Abs(), b.Quantity.Abs(); !qa.Equal(qb) {
			return qa.GreaterThan(qb)
		}
		return a.Instrument < b.Instrument
	})

	return merged
}

// MergeCycles concatenates per-instrument cycles into the all-instruments
// view: open cycles first, then exit time descending, then entry time
// descending, then instrument name.
func MergeCycles(perInstrument [][]cycle.Cycle) []cycle.Cycle {
	var total int
	for _, cs := range perInstrument {
		total += len(cs)
	}

	merged := make([]cycle.Cycle, 0, total)
	for _, cs := range perInstrument {
		merged = append(merged, cs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := &merged[i], &merged[j]
		aOpen := a.Status == cycle.StatusOpen
		bOpen := b.Status == cycle.StatusOpen
		if aOpen != bOpen {
			return aOpen
		}
		if !a.ExitTime.Equal(b.ExitTime) {
			return a.ExitTime.After(b.ExitTime)
		}
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.After(b.EntryTime)
		}
		return a.Instrument < b.Instrument
	})

	return merged
}
