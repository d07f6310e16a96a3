package airquality_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aqicast/aqicast/internal/airquality"
)

func TestParseAQI(t *testing.T) {
	tests := []struct {
		name   string
		raw    airquality.RawAQI
		status airquality.Status
		aqi    int
	}{
		{"integer", airquality.Raw("57"), airquality.StatusValid, 57},
		{"zero", airquality.Raw("0"), airquality.StatusValid, 0},
		{"padded", airquality.Raw(" 132 "), airquality.StatusValid, 132},
		{"integral float text", airquality.Raw("57.0"), airquality.StatusUnparseable, 0},
		{"exponent text", airquality.Raw("1e2"), airquality.StatusUnparseable, 0},
		{"number", airquality.Number("87"), airquality.StatusValid, 87},
		{"integral float number", airquality.Number("57.0"), airquality.StatusValid, 57},
		{"fractional number truncates", airquality.Number("57.5"), airquality.StatusValid, 57},
		{"exponent number", airquality.Number("1e2"), airquality.StatusValid, 100},
		{"out of range number", airquality.Number("1e20"), airquality.StatusUnparseable, 0},
		{"placeholder", airquality.Raw("-"), airquality.StatusPlaceholder, 0},
		{"empty", airquality.Raw(""), airquality.StatusMissing, 0},
		{"null", airquality.Raw("null"), airquality.StatusMissing, 0},
		{"absent", airquality.Missing, airquality.StatusMissing, 0},
		{"text", airquality.Raw("abc"), airquality.StatusUnparseable, 0},
		{"fractional text", airquality.Raw("57.5"), airquality.StatusUnparseable, 0},
		{"infinite", airquality.Raw("Inf"), airquality.StatusUnparseable, 0},
		{"not a number", airquality.Raw("NaN"), airquality.StatusUnparseable, 0},
		{"out of range", airquality.Raw("99999999999999999999"), airquality.StatusUnparseable, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := airquality.ParseAQI(tt.raw)
			assert.Equal(t, tt.status, parsed.Status)
			assert.Equal(t, tt.status == airquality.StatusValid, parsed.Valid())
			if parsed.Valid() {
				assert.Equal(t, tt.aqi, parsed.AQI)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "valid", airquality.StatusValid.String())
	assert.Equal(t, "missing", airquality.StatusMissing.String())
	assert.Equal(t, "placeholder", airquality.StatusPlaceholder.String())
	assert.Equal(t, "unparseable", airquality.StatusUnparseable.String())
	assert.Equal(t, "unknown", airquality.Status(99).String())
}

func TestSource(t *testing.T) {
	assert.True(t, airquality.SourceDirect.IsDirect())
	_, borrowed := airquality.SourceDirect.BorrowedFrom()
	assert.False(t, borrowed)

	src := airquality.NearestSource("Chennai")
	assert.Equal(t, airquality.Source("nearest:Chennai"), src)
	assert.False(t, src.IsDirect())
	from, borrowed := src.BorrowedFrom()
	assert.True(t, borrowed)
	assert.Equal(t, "Chennai", from)
}
