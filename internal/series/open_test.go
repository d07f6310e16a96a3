package series_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqicast/aqicast/internal/series"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	backend, err := series.Open(ctx, series.OpenConfig{
		Driver:     series.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "aqi.db"),
	})
	require.NoError(t, err)
	defer backend.Close()

	assert.NoError(t, backend.Ping(ctx))
	exerciseReadWriter(t, backend)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := series.Open(context.Background(), series.OpenConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
}
