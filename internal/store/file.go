package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/pow-tracker/internal/station"
)

const (
	// SummaryFile holds the snapshot table.
	SummaryFile = "summary_data.csv"
	// LatestFile holds the snapshot capture time.
	LatestFile = "latest.json"

	currentLink      = "current"
	generationPrefix = "snapshot-"
)

var summaryHeader = []string{"name", "elev", "depth", "swe", "temp", "triplet"}

type latestRecord struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone,omitempty"`
}

// FileStore persists snapshots as a CSV table plus a JSON timestamp. Each save
// writes both files into a fresh generation directory and then publishes it
// by atomically replacing the "current" symlink, so a reader following
// current always sees a table and a timestamp from the same run.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

var _ station.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *zap.SugaredLogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileStore{dir: dir, logger: logger.Named("filestore")}, nil
}

// CurrentDir is the path readers should use to find the latest files.
func (s *FileStore) CurrentDir() string {
	return filepath.Join(s.dir, currentLink)
}

// SaveSnapshot writes and publishes a new generation.
func (s *FileStore) SaveSnapshot(ctx context.Context, snapshot station.Snapshot) error {
	table, err := encodeSummary(snapshot.Rows)
	if err != nil {
		return err
	}
	latest, err := json.Marshal(latestRecord{
		Date:     snapshot.CapturedAt.Format(station.CapturedAtLayout),
		Timezone: snapshot.CapturedAt.Location().String(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := os.MkdirTemp(s.dir, generationPrefix)
	if err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	if err := writeSynced(filepath.Join(gen, SummaryFile), table); err != nil {
		_ = os.RemoveAll(gen)
		return err
	}
	if err := writeSynced(filepath.Join(gen, LatestFile), latest); err != nil {
		_ = os.RemoveAll(gen)
		return err
	}
	if err := os.Chmod(gen, 0o755); err != nil {
		_ = os.RemoveAll(gen)
		return err
	}

	previous, _ := os.Readlink(s.CurrentDir())
	name := filepath.Base(gen)
	tmpLink := filepath.Join(s.dir, "."+currentLink+"-"+name)
	if err := os.Symlink(name, tmpLink); err != nil {
		_ = os.RemoveAll(gen)
		return fmt.Errorf("link generation: %w", err)
	}
	if err := os.Rename(tmpLink, s.CurrentDir()); err != nil {
		_ = os.Remove(tmpLink)
		_ = os.RemoveAll(gen)
		return fmt.Errorf("publish generation: %w", err)
	}

	s.prune(name, filepath.Base(previous))
	return nil
}

// LatestSnapshot reads the published generation.
func (s *FileStore) LatestSnapshot(_ context.Context) (station.Snapshot, error) {
	target, err := os.Readlink(s.CurrentDir())
	if errors.Is(err, fs.ErrNotExist) {
		return station.Snapshot{}, station.ErrSnapshotNotFound
	}
	if err != nil {
		return station.Snapshot{}, err
	}
	gen := filepath.Join(s.dir, target)

	latestBytes, err := os.ReadFile(filepath.Join(gen, LatestFile))
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("read %s: %w", LatestFile, err)
	}
	var latest latestRecord
	if err := json.Unmarshal(latestBytes, &latest); err != nil {
		return station.Snapshot{}, fmt.Errorf("decode %s: %w", LatestFile, err)
	}
	loc := time.UTC
	if latest.Timezone != "" {
		if l, err := time.LoadLocation(latest.Timezone); err == nil {
			loc = l
		}
	}
	capturedAt, err := time.ParseInLocation(station.CapturedAtLayout, latest.Date, loc)
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("decode %s date: %w", LatestFile, err)
	}

	f, err := os.Open(filepath.Join(gen, SummaryFile))
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("read %s: %w", SummaryFile, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := decodeSummary(csv.NewReader(f))
	if err != nil {
		return station.Snapshot{}, err
	}
	return station.Snapshot{CapturedAt: capturedAt, Rows: rows}, nil
}

// prune removes generations other than the current and previous one.
func (s *FileStore) prune(keep ...string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warnw("failed to list snapshot generations", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), generationPrefix) {
			continue
		}
		kept := false
		for _, k := range keep {
			if e.Name() == k {
				kept = true
				break
			}
		}
		if kept {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warnw("failed to prune snapshot generation", "generation", e.Name(), "error", err)
		}
	}
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeSummary(rows []station.SummaryRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(summaryHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{r.Name, r.ElevationString(), r.Depth.String(), r.SWE.String(), r.Temperature.String(), r.Triplet}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSummary(r *csv.Reader) ([]station.SummaryRow, error) {
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", SummaryFile, err)
	}
	if strings.Join(header, ",") != strings.Join(summaryHeader, ",") {
		return nil, fmt.Errorf("invalid %s header: expected %v, got %v", SummaryFile, summaryHeader, header)
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SummaryFile, err)
	}

	rows := make([]station.SummaryRow, 0, len(records))
	for i, rec := range records {
		row := station.SummaryRow{Name: rec[0], Triplet: rec[5]}
		if rec[1] != station.MissingLabel {
			elev, err := strconv.Atoi(rec[1])
			if err != nil {
				return nil, fmt.Errorf("%s row %d: elevation %q: %w", SummaryFile, i+1, rec[1], err)
			}
			row.Elevation = &elev
		}
		cells := []*station.Measurement{&row.Depth, &row.SWE, &row.Temperature}
		for j, cell := range cells {
			m, err := station.ParseMeasurement(rec[2+j])
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %s %q: %w", SummaryFile, i+1, summaryHeader[2+j], rec[2+j], err)
			}
			*cell = m
		}
		rows = append(rows, row)
	}
	return rows, nil
}
