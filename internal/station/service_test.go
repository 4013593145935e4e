package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu       sync.Mutex
	metadata map[string]Metadata
	hourly   map[string]RawHourlyResponse // key: triplet/element
	daily    map[string]RawDailyResponse  // key: triplet/element/begin
	failures map[string]error             // key: triplet or triplet/element
	queries  []StationQuery
	entered  chan struct{}
	block    chan struct{}
}

func (f *fakeClient) SearchStations(ctx context.Context, filters SearchFilters) ([]Metadata, error) {
	out := make([]Metadata, 0, len(f.metadata))
	for _, m := range f.metadata {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, triplet string) (Metadata, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if err := f.failures[triplet]; err != nil {
		return Metadata{}, err
	}
	m, ok := f.metadata[triplet]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: unknown station", ErrServiceUnavailable)
	}
	return m, nil
}

func (f *fakeClient) GetDailySeries(ctx context.Context, q StationQuery) (RawDailyResponse, error) {
	f.record(q)
	key := q.Triplet + "/" + q.Element + "/" + q.BeginDate.Format(DateLayout)
	if err := f.failures[key]; err != nil {
		return RawDailyResponse{}, err
	}
	raw, ok := f.daily[key]
	if !ok {
		return RawDailyResponse{}, ErrEmptyResponse
	}
	return raw, nil
}

func (f *fakeClient) GetHourlySeries(ctx context.Context, q StationQuery) (RawHourlyResponse, error) {
	f.record(q)
	key := q.Triplet + "/" + q.Element
	if err := f.failures[key]; err != nil {
		return RawHourlyResponse{}, err
	}
	raw, ok := f.hourly[key]
	if !ok {
		return RawHourlyResponse{}, ErrEmptyResponse
	}
	return raw, nil
}

func (f *fakeClient) record(q StationQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
}

type fakeStore struct {
	mu    sync.Mutex
	saves int
	last  Snapshot
	err   error
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.last = snapshot
	return nil
}

func (s *fakeStore) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s.last, nil
}

func hourly(pairs ...interface{}) RawHourlyResponse {
	var raw RawHourlyResponse
	for i := 0; i+1 < len(pairs); i += 2 {
		v := RawHourlyValue{Timestamp: pairs[i].(string)}
		if f, ok := pairs[i+1].(float64); ok {
			v.Value = Observed(f)
		}
		raw.Values = append(raw.Values, v)
	}
	return raw
}

func fixedClock() time.Time {
	return time.Date(2019, time.December, 21, 13, 42, 7, 0, time.UTC)
}

// TestRefreshSnapshot_IsolatesFailingSite covers a run where one of three
// sites fails its metadata lookup.
func TestRefreshSnapshot_IsolatesFailingSite(t *testing.T) {
	client := &fakeClient{
		metadata: map[string]Metadata{
			"787:MT:SNTL": {Triplet: "787:MT:SNTL", Name: "Stahl Peak", ElevationFeet: 6030},
			"918:MT:SNTL": {Triplet: "918:MT:SNTL", Name: "Flattop Mtn", ElevationFeet: 6300},
		},
		hourly: map[string]RawHourlyResponse{
			"787:MT:SNTL/SNWD": hourly("2019-12-21 12:00", 40.0, "2019-12-21 13:00", 41.0, "2019-12-21 11:00", 39.0),
			"787:MT:SNTL/WTEQ": hourly("2019-12-21 13:00", 9.5),
			"787:MT:SNTL/TOBS": hourly("2019-12-21 12:00", 18.0, "2019-12-21 13:00", nil),
			"918:MT:SNTL/SNWD": hourly("2019-12-21 13:00", 55.0),
			"918:MT:SNTL/TOBS": hourly(),
		},
		failures: map[string]error{
			"500:MT:SNTL":      fmt.Errorf("%w: timeout", ErrServiceUnavailable),
			"918:MT:SNTL/WTEQ": fmt.Errorf("%w: bad value", ErrMalformedResponse),
		},
	}
	store := &fakeStore{}
	svc := NewService(client, store, []string{"787:MT:SNTL", "500:MT:SNTL", "918:MT:SNTL"}, nil, WithClock(fixedClock))

	snap, err := svc.RefreshSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}
	if len(snap.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(snap.Rows))
	}
	if snap.CapturedAt.Format(CapturedAtLayout) != "2019-12-21 13:42:07" {
		t.Fatalf("unexpected capture time %s", snap.CapturedAt.Format(CapturedAtLayout))
	}

	stahl := snap.Rows[0]
	if stahl.Name != "Stahl Peak" || stahl.ElevationString() != "6030" {
		t.Fatalf("unexpected first row: %+v", stahl)
	}
	// Last reading after ordering, not the last one in service order.
	if stahl.Depth != Observed(41) {
		t.Fatalf("expected depth 41, got %v", stahl.Depth)
	}
	if stahl.SWE != Observed(9.5) {
		t.Fatalf("expected swe 9.5, got %v", stahl.SWE)
	}
	// The last reading is taken even when it is missing.
	if stahl.Temperature.Valid {
		t.Fatalf("expected missing temperature, got %v", stahl.Temperature)
	}

	failed := snap.Rows[1]
	if failed.Name != "500:MT:SNTL" || failed.Elevation != nil ||
		failed.Depth.Valid || failed.SWE.Valid || failed.Temperature.Valid {
		t.Fatalf("expected an all-NA row for the failing site, got %+v", failed)
	}

	flattop := snap.Rows[2]
	if flattop.Depth != Observed(55) || flattop.SWE.Valid || flattop.Temperature.Valid {
		t.Fatalf("unexpected third row: %+v", flattop)
	}
}

func TestRefreshSnapshot_QueriesTodayUpToCurrentHour(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	client := &fakeClient{metadata: map[string]Metadata{"787:MT:SNTL": {Name: "Stahl Peak", ElevationFeet: 6030}}}
	// 03:15 UTC on the 22nd is 20:15 on the 21st in Denver.
	clock := func() time.Time { return time.Date(2019, time.December, 22, 3, 15, 0, 0, time.UTC) }
	svc := NewService(client, &fakeStore{}, []string{"787:MT:SNTL"}, nil, WithClock(clock), WithLocation(denver))

	if _, err := svc.RefreshSnapshot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.queries) != len(SnapshotElements) {
		t.Fatalf("expected %d queries, got %d", len(SnapshotElements), len(client.queries))
	}
	for i, q := range client.queries {
		if q.Element != SnapshotElements[i] {
			t.Errorf("query %d: expected element %s, got %s", i, SnapshotElements[i], q.Element)
		}
		if q.BeginDate.Format(DateLayout) != "2019-12-21" || q.EndDate.Format(DateLayout) != "2019-12-21" {
			t.Errorf("query %d: expected 2019-12-21, got %s", i, q)
		}
		if *q.BeginHour != 0 || *q.EndHour != 20 {
			t.Errorf("query %d: expected hours 0..20, got %d..%d", i, *q.BeginHour, *q.EndHour)
		}
	}
}

func TestRefreshSnapshot_SkipsWhenRunning(t *testing.T) {
	client := &fakeClient{
		metadata: map[string]Metadata{"787:MT:SNTL": {Name: "Stahl Peak"}},
		entered:  make(chan struct{}, 1),
		block:    make(chan struct{}),
	}
	store := &fakeStore{}
	svc := NewService(client, store, []string{"787:MT:SNTL"}, nil, WithClock(fixedClock))

	done := make(chan error, 1)
	go func() {
		_, err := svc.RefreshSnapshot(context.Background())
		done <- err
	}()

	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never started")
	}

	if _, err := svc.RefreshSnapshot(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(client.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected exactly one save, got %d", store.saves)
	}
}

func TestRefreshSnapshot_StoreFailure(t *testing.T) {
	client := &fakeClient{metadata: map[string]Metadata{}}
	store := &fakeStore{err: errors.New("disk full")}
	svc := NewService(client, store, []string{"787:MT:SNTL"}, nil, WithClock(fixedClock))

	if _, err := svc.RefreshSnapshot(context.Background()); err == nil {
		t.Fatalf("expected the store error to be returned")
	}
}

func TestRefreshSnapshot_Cancelled(t *testing.T) {
	client := &fakeClient{metadata: map[string]Metadata{}}
	store := &fakeStore{}
	svc := NewService(client, store, []string{"787:MT:SNTL"}, nil, WithClock(fixedClock))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.RefreshSnapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no save after cancellation")
	}
}

func TestSeasonalSeries_DropsLeapDayAndToleratesMissingYears(t *testing.T) {
	client := &fakeClient{daily: map[string]RawDailyResponse{}}
	for _, year := range []int{2019, 2020} {
		b, e := SeasonWindow(year)
		n := DaysBetween(b, e) + 1
		client.daily["787:MT:SNTL/SNWD/"+b.Format(DateLayout)] = RawDailyResponse{
			BeginDate: b.Format(DateLayout),
			EndDate:   e.Format(DateLayout),
			Values:    make([]Measurement, n),
		}
	}
	svc := NewService(client, &fakeStore{}, nil, nil)

	seasons, err := svc.SeasonalSeries(context.Background(), "787:MT:SNTL", ElementSnowDepth, []int{2019, 2020, 2021})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seasons) != 2 {
		t.Fatalf("expected 2 seasons, got %d", len(seasons))
	}
	for _, s := range seasons {
		if s.Len() != 196 {
			t.Errorf("season %d: expected 196 days, got %d", s.Year, s.Len())
		}
		for _, d := range s.Dates {
			if d.Month() == time.February && d.Day() == 29 {
				t.Errorf("season %d still contains Feb 29", s.Year)
			}
		}
	}
	for _, q := range client.queries {
		if q.AlwaysReturnFeb29 {
			t.Fatalf("expected seasonal queries without alwaysReturnDailyFeb29")
		}
	}

	if _, err := svc.SeasonalSeries(context.Background(), "787:MT:SNTL", ElementSnowDepth, []int{2030}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse when no season is available, got %v", err)
	}
}

func TestMetadataRejectsBadTriplet(t *testing.T) {
	svc := NewService(&fakeClient{}, &fakeStore{}, nil, nil)
	if _, err := svc.Metadata(context.Background(), "not-a-triplet"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}
