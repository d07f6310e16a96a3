// Package airquality resolves live AQI readings for registry locations,
// borrowing from the nearest neighbour when a location has no usable reading.
package airquality

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider errors.
var (
	ErrNoValidNeighbor     = errors.New("no neighbouring location has a valid reading")
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
)

const (
	// SourceDirect tags a reading fetched live for its own location.
	SourceDirect Source = "direct"

	// SourcePoint tags a live reading taken for exact coordinates. Such
	// readings are shown to callers but never stored.
	SourcePoint Source = "point"
)

const nearestPrefix = "nearest:"

// Source records where a Reading's value came from.
type Source string

// NearestSource returns the source tag for a value borrowed from another location.
func NearestSource(location string) Source {
	return Source(nearestPrefix + location)
}

// IsDirect reports whether the value was fetched for the reading's own location.
func (s Source) IsDirect() bool {
	return s == SourceDirect
}

// BorrowedFrom returns the neighbour the value was borrowed from, if any.
func (s Source) BorrowedFrom() (string, bool) {
	if !strings.HasPrefix(string(s), nearestPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), nearestPrefix), true
}

// Reading is one daily AQI value for a location.
// At most one Reading exists per (Location, Date); later writes for the same
// day replace earlier ones.
type Reading struct {
	Location string
	Date     time.Time
	AQI      int
	Source   Source
}

// Day truncates t to a calendar date in t's own time zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RawAQI is an unparsed AQI value as returned by an upstream feed.
// Present is false when the feed returned nothing at all for the location.
type RawAQI struct {
	Value   string
	Present bool

	// Numeric is set when the feed sent the value as a JSON number rather
	// than a string.
	Numeric bool
}

// Missing is the RawAQI for a location the feed knows nothing about.
var Missing = RawAQI{}

// Raw wraps an upstream string value.
func Raw(value string) RawAQI {
	return RawAQI{Value: value, Present: true}
}

// Number wraps an upstream JSON number, given in its literal form.
func Number(literal string) RawAQI {
	return RawAQI{Value: literal, Present: true, Numeric: true}
}

// Lookup fetches live AQI values.
type Lookup interface {
	// Current returns the live value for a registry location.
	Current(ctx context.Context, location string) (RawAQI, error)
}

// PointLookup fetches live AQI values for arbitrary coordinates.
type PointLookup interface {
	CurrentAt(ctx context.Context, lat, lon float64) (RawAQI, error)
}

// Unavailable serves deployments without upstream credentials. Every call
// fails with ErrProviderUnavailable.
type Unavailable struct{}

// Current implements Lookup.
func (Unavailable) Current(context.Context, string) (RawAQI, error) {
	return RawAQI{}, ErrProviderUnavailable
}

// CurrentAt implements PointLookup.
func (Unavailable) CurrentAt(context.Context, float64, float64) (RawAQI, error) {
	return RawAQI{}, ErrProviderUnavailable
}

var (
	_ Lookup      = Unavailable{}
	_ PointLookup = Unavailable{}
)
