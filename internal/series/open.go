package series

import (
	"context"
	"fmt"

	"github.com/aqicast/aqicast/internal/database"
)

// Store drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Backend is a ReadWriter that owns its database connection.
type Backend interface {
	ReadWriter
	Ping(ctx context.Context) error
	Close() error
}

// OpenConfig selects and configures the history backend.
type OpenConfig struct {
	Driver     string
	SQLitePath string
	Postgres   database.Config
}

// Open connects to the configured backend and makes sure its schema exists.
func Open(ctx context.Context, cfg OpenConfig) (Backend, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("series: unsupported store driver %q", cfg.Driver)
	}
}

var (
	_ Backend = (*PostgresStore)(nil)
	_ Backend = (*SQLiteStore)(nil)
)
