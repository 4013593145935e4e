package store

import (
	"context"
	"sync"

	"github.com/i474232898/pow-tracker/internal/station"
)

// MemoryStore is a concurrency-safe in-memory snapshot store. It keeps only
// the latest snapshot; each save replaces it.
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot *station.Snapshot
}

var _ station.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveSnapshot replaces the stored snapshot with a copy of snapshot.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot station.Snapshot) error {
	cp := copySnapshot(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &cp
	return nil
}

// LatestSnapshot returns a copy of the stored snapshot.
func (s *MemoryStore) LatestSnapshot(_ context.Context) (station.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return station.Snapshot{}, station.ErrSnapshotNotFound
	}
	return copySnapshot(*s.snapshot), nil
}

func copySnapshot(in station.Snapshot) station.Snapshot {
	out := station.Snapshot{
		CapturedAt: in.CapturedAt,
		Rows:       make([]station.SummaryRow, len(in.Rows)),
	}
	for i, r := range in.Rows {
		if r.Elevation != nil {
			elev := *r.Elevation
			r.Elevation = &elev
		}
		out.Rows[i] = r
	}
	return out
}
