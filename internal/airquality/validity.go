package airquality

import (
	"math"
	"strconv"
	"strings"
)

// Status classifies a raw upstream AQI value.
type Status int

const (
	// StatusValid means the value parsed to an integer AQI.
	StatusValid Status = iota
	// StatusMissing means the feed returned no value.
	StatusMissing
	// StatusPlaceholder means the feed returned its "no data" marker.
	StatusPlaceholder
	// StatusUnparseable means the value was present but not an integer.
	StatusUnparseable
)

// PlaceholderAQI is the marker upstream feeds use for "no current data".
const PlaceholderAQI = "-"

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusMissing:
		return "missing"
	case StatusPlaceholder:
		return "placeholder"
	case StatusUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// ParsedAQI is the classified form of a RawAQI.
// AQI is only meaningful when Status is StatusValid.
type ParsedAQI struct {
	Status Status
	AQI    int
}

// Valid reports whether the value can be used as a reading.
func (p ParsedAQI) Valid() bool {
	return p.Status == StatusValid
}

// ParseAQI classifies a raw upstream value.
// String values must be integer text such as "57" or " 132 "; "57.0" and
// "1e2" are unparseable. JSON numbers are truncated toward zero when finite,
// so 57.5 reads as 57. The placeholder "-" and empty or absent values are
// never valid.
func ParseAQI(raw RawAQI) ParsedAQI {
	if !raw.Present {
		return ParsedAQI{Status: StatusMissing}
	}

	v := strings.TrimSpace(raw.Value)
	switch v {
	case "", "null":
		return ParsedAQI{Status: StatusMissing}
	case PlaceholderAQI:
		return ParsedAQI{Status: StatusPlaceholder}
	}

	if n, err := strconv.Atoi(v); err == nil {
		return ParsedAQI{Status: StatusValid, AQI: n}
	}
	if !raw.Numeric {
		return ParsedAQI{Status: StatusUnparseable}
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return ParsedAQI{Status: StatusUnparseable}
	}
	f = math.Trunc(f)
	if f > math.MaxInt32 || f < math.MinInt32 {
		return ParsedAQI{Status: StatusUnparseable}
	}
	return ParsedAQI{Status: StatusValid, AQI: int(f)}
}
