package series

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aqicast/aqicast/internal/airquality"
)

const sqliteDateLayout = "2006-01-02"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS aqi_records (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	date   TEXT    NOT NULL,
	city   TEXT    NOT NULL,
	aqi    INTEGER NOT NULL,
	source TEXT    NOT NULL,
	UNIQUE (city, date)
);
CREATE INDEX IF NOT EXISTS idx_aqi_records_city_date ON aqi_records (city, date);
`

// SQLiteStore is a single-file SQLite implementation of ReadWriter, for
// deployments without a PostgreSQL server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the ingest job and readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping SQLite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply SQLite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// History returns up to maxDays most recent samples, oldest first.
func (s *SQLiteStore) History(ctx context.Context, location string, maxDays int) ([]Sample, error) {
	query := `
		SELECT date, aqi, source
		FROM aqi_records
		WHERE city = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, location, maxDays)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			sample Sample
			date   string
			source string
		)
		if err := rows.Scan(&date, &sample.AQI, &source); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		sample.Date, err = time.Parse(sqliteDateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse history date %q: %w", date, err)
		}
		sample.Source = airquality.Source(source)
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	reverse(samples)
	return samples, nil
}

// Upsert stores a reading, replacing any existing one for the same city and date.
func (s *SQLiteStore) Upsert(ctx context.Context, r airquality.Reading) error {
	if err := validateReading(r); err != nil {
		return err
	}

	query := `
		INSERT INTO aqi_records (date, city, aqi, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (city, date) DO UPDATE SET
			aqi = excluded.aqi,
			source = excluded.source
	`

	date := dateKey(r.Date).Format(sqliteDateLayout)
	if _, err := s.db.ExecContext(ctx, query, date, r.Location, r.AQI, string(r.Source)); err != nil {
		return fmt.Errorf("upsert reading: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements ReadWriter interface.
var _ ReadWriter = (*SQLiteStore)(nil)
