package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/pow-tracker/internal/station"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	captured_at TEXT NOT NULL,
	timezone    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_rows (
	position    INTEGER PRIMARY KEY,
	triplet     TEXT NOT NULL,
	name        TEXT NOT NULL,
	elevation   INTEGER,
	depth       REAL,
	swe         REAL,
	temperature REAL
);`

// SQLiteStore keeps the latest snapshot in a SQLite database. A save replaces
// the meta row and every table row inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

var _ station.SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot station.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_rows`); err != nil {
		return fmt.Errorf("failed to clear snapshot rows: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, captured_at, timezone) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET captured_at = excluded.captured_at, timezone = excluded.timezone`,
		snapshot.CapturedAt.Format(station.CapturedAtLayout), snapshot.CapturedAt.Location().String())
	if err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_rows (position, triplet, name, elevation, depth, swe, temperature)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range snapshot.Rows {
		var elev sql.NullInt64
		if r.Elevation != nil {
			elev = sql.NullInt64{Int64: int64(*r.Elevation), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, i, r.Triplet, r.Name, elev,
			nullFloat(r.Depth), nullFloat(r.SWE), nullFloat(r.Temperature))
		if err != nil {
			return fmt.Errorf("failed to insert row %s: %w", r.Triplet, err)
		}
	}

	return tx.Commit()
}

// LatestSnapshot reads the stored snapshot.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (station.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var capturedAt, tz string
	err = tx.QueryRowContext(ctx, `SELECT captured_at, timezone FROM snapshot_meta WHERE id = 1`).Scan(&capturedAt, &tz)
	if errors.Is(err, sql.ErrNoRows) {
		return station.Snapshot{}, station.ErrSnapshotNotFound
	}
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("failed to read snapshot meta: %w", err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation(station.CapturedAtLayout, capturedAt, loc)
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("failed to parse captured_at %q: %w", capturedAt, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT triplet, name, elevation, depth, swe, temperature FROM snapshot_rows ORDER BY position`)
	if err != nil {
		return station.Snapshot{}, fmt.Errorf("failed to query snapshot rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := station.Snapshot{CapturedAt: at, Rows: []station.SummaryRow{}}
	for rows.Next() {
		var (
			r                 station.SummaryRow
			elev              sql.NullInt64
			depth, swe, temps sql.NullFloat64
		)
		if err := rows.Scan(&r.Triplet, &r.Name, &elev, &depth, &swe, &temps); err != nil {
			return station.Snapshot{}, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if elev.Valid {
			e := int(elev.Int64)
			r.Elevation = &e
		}
		r.Depth = fromNullFloat(depth)
		r.SWE = fromNullFloat(swe)
		r.Temperature = fromNullFloat(temps)
		out.Rows = append(out.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return station.Snapshot{}, err
	}
	return out, nil
}

func nullFloat(m station.Measurement) sql.NullFloat64 {
	return sql.NullFloat64{Float64: m.Value, Valid: m.Valid}
}

func fromNullFloat(n sql.NullFloat64) station.Measurement {
	if !n.Valid {
		return station.Missing()
	}
	return station.Observed(n.Float64)
}
