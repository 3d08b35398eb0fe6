package ingestion

import (
	"sync"
)

// RawStore holds the accumulated raw fill rows per source plus the shared
// funding rows. It is the append-only input log each recompute pass reads
// in full; the engine never mutates it.
type RawStore struct {
	mu      sync.RWMutex
	fills   map[string][]RawRecord // source -> rows, in arrival order
	funding []RawRecord
}

func NewRawStore() *RawStore {
	return &RawStore{
		fills: make(map[string][]RawRecord),
	}
}

// AppendFill appends one raw fill row for a source.
func (s *RawStore) AppendFill(source string, row RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills[source] = append(s.fills[source], row)
}

// AppendFunding appends one raw funding row.
func (s *RawStore) AppendFunding(row RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funding = append(s.funding, row)
}

// SnapshotFills returns a stable copy of all fill rows for a pass. Rows
// appended after the snapshot belong to the next pass.
func (s *RawStore) SnapshotFills() map[string][]RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]RawRecord, len(s.fills))
	for source, rows := range s.fills {
		cp := make([]RawRecord, len(rows))
		copy(cp, rows)
		out[source] = cp
	}
	return out
}

// SnapshotFunding returns a stable copy of all funding rows.
func (s *RawStore) SnapshotFunding() []RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]RawRecord, len(s.funding))
	copy(cp, s.funding)
	return cp
}

// Sources returns the number of sources with at least one row.
func (s *RawStore) Sources() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fills)
}
