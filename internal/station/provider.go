package station

import (
	"context"
)

// DataClient abstracts the remote station-data service. Every call returns
// either a result or an error; a zero result without an error never means
// "no data".
type DataClient interface {
	SearchStations(ctx context.Context, filters SearchFilters) ([]Metadata, error)
	GetMetadata(ctx context.Context, triplet string) (Metadata, error)
	GetDailySeries(ctx context.Context, q StationQuery) (RawDailyResponse, error)
	GetHourlySeries(ctx context.Context, q StationQuery) (RawHourlyResponse, error)
}

// SnapshotStore persists the latest snapshot. SaveSnapshot replaces the
// previous table and timestamp as one unit; readers never see a mix.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LatestSnapshot(ctx context.Context) (Snapshot, error)
}
