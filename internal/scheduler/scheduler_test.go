package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/pow-tracker/internal/station"
)

type fakeRefresher struct {
	calls       atomic.Int32
	err         error
	sawDeadline atomic.Bool
}

func (f *fakeRefresher) RefreshSnapshot(ctx context.Context) (station.Snapshot, error) {
	if _, ok := ctx.Deadline(); ok {
		f.sawDeadline.Store(true)
	}
	f.calls.Add(1)
	return station.Snapshot{}, f.err
}

type fakeForecasts struct {
	calls atomic.Int32
}

func (f *fakeForecasts) RefreshAll(context.Context) int {
	f.calls.Add(1)
	return 1
}

func TestRunOnce(t *testing.T) {
	snaps := &fakeRefresher{err: station.ErrRunInProgress}
	fc := &fakeForecasts{}
	s := New(snaps, fc, time.Minute, 0, nil)

	s.RunOnce(context.Background())

	if snaps.calls.Load() != 1 || fc.calls.Load() != 1 {
		t.Fatalf("expected one call each, got snapshot=%d forecasts=%d", snaps.calls.Load(), fc.calls.Load())
	}
}

func TestRunOnce_WithoutForecasts(t *testing.T) {
	snaps := &fakeRefresher{err: errors.New("boom")}
	s := New(snaps, nil, time.Minute, time.Second, nil)
	s.RunOnce(context.Background())
	if snaps.calls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", snaps.calls.Load())
	}
}

func TestStart_RunsImmediatelyWithTimeout(t *testing.T) {
	snaps := &fakeRefresher{}
	s := New(snaps, nil, time.Hour, time.Minute, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for snaps.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if snaps.calls.Load() == 0 {
		t.Fatalf("expected the first run to start immediately")
	}
	if !snaps.sawDeadline.Load() {
		t.Fatalf("expected the run context to carry a deadline")
	}
}

func TestNew_ClampsRunTimeout(t *testing.T) {
	s := New(&fakeRefresher{}, nil, time.Minute, time.Hour, nil)
	if s.runTimeout != time.Minute {
		t.Fatalf("expected run timeout clamped to the interval, got %s", s.runTimeout)
	}
}
