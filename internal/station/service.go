package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service orchestrates station queries, series normalization and snapshot
// persistence.
type Service struct {
	client   DataClient
	store    SnapshotStore
	sites    []string
	location *time.Location
	now      func() time.Time
	logger   *zap.SugaredLogger

	// running serializes snapshot refreshes; overlapping calls are skipped.
	running sync.Mutex
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLocation sets the time zone that defines "today" for the snapshot job.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new Service for the given ordered site list.
func NewService(client DataClient, store SnapshotStore, sites []string, logger *zap.SugaredLogger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		client:   client,
		store:    store,
		sites:    append([]string(nil), sites...),
		location: time.UTC,
		now:      time.Now,
		logger:   logger.Named("snapshot"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sites returns the configured site triplets in order.
func (s *Service) Sites() []string {
	return append([]string(nil), s.sites...)
}

// RefreshSnapshot runs one aggregation cycle: for every configured site it
// fetches metadata and the last reading so far today of each snapshot
// element, then replaces the stored snapshot. A failing site yields a row of
// missing values instead of aborting the run. If another refresh is running
// the call returns ErrRunInProgress and leaves the store untouched.
func (s *Service) RefreshSnapshot(ctx context.Context) (Snapshot, error) {
	if !s.running.TryLock() {
		return Snapshot{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	runLog := s.logger.With("run", uuid.NewString())
	now := s.now().In(s.location)
	runLog.Infow("snapshot refresh started", "sites", len(s.sites), "hour", now.Hour())

	rows := make([]SummaryRow, 0, len(s.sites))
	for _, triplet := range s.sites {
		if ctx.Err() != nil {
			break
		}
		rows = append(rows, s.siteRow(ctx, runLog, triplet, now))
	}
	if err := ctx.Err(); err != nil {
		runLog.Warnw("snapshot refresh cancelled", "error", err)
		return Snapshot{}, err
	}

	snapshot := AssembleSnapshot(now, rows)
	if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
		runLog.Errorw("failed to persist snapshot", "error", err)
		return Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}

	runLog.Infow("snapshot refresh completed", "rows", len(rows),
		"capturedAt", snapshot.CapturedAt.Format(CapturedAtLayout))
	return snapshot, nil
}

func (s *Service) siteRow(ctx context.Context, runLog *zap.SugaredLogger, triplet string, now time.Time) SummaryRow {
	meta, err := s.client.GetMetadata(ctx, triplet)
	if err != nil {
		runLog.Warnw("site metadata unavailable; writing missing row", "triplet", triplet, "error", err)
		return MissingRow(triplet)
	}
	if meta.Triplet == "" {
		meta.Triplet = triplet
	}

	readings := make(map[string]Measurement, len(SnapshotElements))
	for _, element := range SnapshotElements {
		m, err := s.latestReading(ctx, triplet, element, now)
		if err != nil {
			runLog.Warnw("latest reading unavailable", "triplet", triplet, "element", element, "error", err)
			m = Missing()
		}
		readings[element] = m
	}
	return AssembleRow(meta, readings)
}

// latestReading returns the last hourly value reported today up to the
// current hour, missing or not. An empty day is the missing marker.
func (s *Service) latestReading(ctx context.Context, triplet, element string, now time.Time) (Measurement, error) {
	q, err := NewHourlyQuery(triplet, element, now, now, WithHours(0, now.Hour()))
	if err != nil {
		return Missing(), err
	}
	series, err := s.HourlySeries(ctx, q)
	if errors.Is(err, ErrEmptyResponse) {
		return Missing(), nil
	}
	if err != nil {
		return Missing(), err
	}
	return series.Last(), nil
}

// LatestSnapshot returns the most recently persisted snapshot.
func (s *Service) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	return s.store.LatestSnapshot(ctx)
}

// SearchStations delegates to the data client.
func (s *Service) SearchStations(ctx context.Context, filters SearchFilters) ([]Metadata, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	return s.client.SearchStations(ctx, filters)
}

// Metadata delegates to the data client.
func (s *Service) Metadata(ctx context.Context, triplet string) (Metadata, error) {
	if !ValidTriplet(triplet) {
		return Metadata{}, fmt.Errorf("%w: triplet %q", ErrInvalidQuery, triplet)
	}
	return s.client.GetMetadata(ctx, triplet)
}

// DailySeries fetches and normalizes a daily series.
func (s *Service) DailySeries(ctx context.Context, q StationQuery) (Series, error) {
	if q.Duration != DurationDaily {
		return Series{}, fmt.Errorf("%w: %s query passed as daily", ErrInvalidQuery, q.Duration)
	}
	raw, err := s.client.GetDailySeries(ctx, q)
	if err != nil {
		return Series{}, err
	}
	return BuildDaily(raw)
}

// HourlySeries fetches and normalizes an hourly series.
func (s *Service) HourlySeries(ctx context.Context, q StationQuery) (Series, error) {
	if q.Duration != DurationHourly {
		return Series{}, fmt.Errorf("%w: %s query passed as hourly", ErrInvalidQuery, q.Duration)
	}
	raw, err := s.client.GetHourlySeries(ctx, q)
	if err != nil {
		return Series{}, err
	}
	return BuildHourly(raw)
}

// SeasonalSeries fetches the daily series of one element for each winter in
// years and removes February 29 so all seasons share one season-day index.
// Years that cannot be fetched are logged and left out; an error is returned
// only when no season could be built.
func (s *Service) SeasonalSeries(ctx context.Context, triplet, element string, years []int) ([]SeasonSeries, error) {
	seasons := make([]SeasonSeries, 0, len(years))
	var lastErr error

	for _, year := range years {
		begin, end := SeasonWindow(year)
		q, err := NewDailyQuery(triplet, element, begin, end, WithFeb29(false))
		if err != nil {
			return nil, err
		}
		series, err := s.DailySeries(ctx, q)
		if err != nil {
			s.logger.Warnw("season unavailable", "triplet", triplet, "element", element, "year", year, "error", err)
			lastErr = err
			continue
		}
		seasons = append(seasons, SeasonSeries{
			Year:    year,
			Element: element,
			Series:  DropLeapDay(series),
		})
	}

	if len(seasons) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return seasons, nil
}
