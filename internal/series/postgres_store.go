package series

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqicast/aqicast/internal/airquality"
)

// PostgresStore is a PostgreSQL implementation of ReadWriter backed by the
// aqi_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL series store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// History returns up to maxDays most recent samples, oldest first.
func (s *PostgresStore) History(ctx context.Context, location string, maxDays int) ([]Sample, error) {
	query := `
		SELECT date, aqi, source
		FROM aqi_records
		WHERE city = $1
		ORDER BY date DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, location, maxDays)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			sample Sample
			source string
		)
		if err := rows.Scan(&sample.Date, &sample.AQI, &source); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
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
func (s *PostgresStore) Upsert(ctx context.Context, r airquality.Reading) error {
	if err := validateReading(r); err != nil {
		return err
	}

	query := `
		INSERT INTO aqi_records (date, city, aqi, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (city, date) DO UPDATE SET
			aqi = EXCLUDED.aqi,
			source = EXCLUDED.source
	`

	if _, err := s.pool.Exec(ctx, query, dateKey(r.Date), r.Location, r.AQI, string(r.Source)); err != nil {
		return fmt.Errorf("upsert reading: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func reverse(samples []Sample) {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
}

// Ensure PostgresStore implements ReadWriter interface.
var _ ReadWriter = (*PostgresStore)(nil)
