package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/pow-tracker/internal/station"
)

// SnapshotRefresher runs one snapshot cycle.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context) (station.Snapshot, error)
}

// ForecastRefresher refreshes the cached forecast texts.
type ForecastRefresher interface {
	RefreshAll(ctx context.Context) int
}

// Scheduler periodically refreshes the station snapshot and, when
// configured, the forecast cache.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	snapshots  SnapshotRefresher
	forecasts  ForecastRefresher
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.SugaredLogger
}

// New creates a new Scheduler. forecasts may be nil.
func New(snapshots SnapshotRefresher, forecasts ForecastRefresher, interval, runTimeout time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if runTimeout <= 0 || runTimeout > interval {
		runTimeout = interval
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		snapshots:  snapshots,
		forecasts:  forecasts,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run starts immediately. A tick that arrives while the previous run is
// still going is skipped.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.logger.Infow("scheduler started", "interval", s.interval.String(), "runTimeout", s.runTimeout.String())
	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes the snapshot and the forecasts concurrently and waits for
// both.
func (s *Scheduler) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup

	if s.forecasts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := s.forecasts.RefreshAll(ctx)
			s.logger.Debugw("forecasts refreshed", "ok", n)
		}()
	}

	_, err := s.snapshots.RefreshSnapshot(ctx)
	switch {
	case errors.Is(err, station.ErrRunInProgress):
		s.logger.Infow("snapshot refresh skipped; previous run still in progress")
	case err != nil:
		s.logger.Errorw("snapshot refresh failed", "error", err)
	}

	wg.Wait()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
