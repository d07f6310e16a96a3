// Package geo provides the static location registry and great-circle
// distance queries used to pin requests to a canonical location.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Registry errors.
var (
	ErrUnknownLocation    = errors.New("unknown location")
	ErrEmptyCandidateSet  = errors.New("no candidate locations to compare against")
	ErrDuplicateLocation  = errors.New("duplicate location name")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Location is a named point in the registry.
type Location struct {
	Name string
	Lat  float64
	Lon  float64
}

// Registry is an ordered, read-only set of locations.
// Enumeration order is the order locations were supplied to NewRegistry and
// decides distance ties: the first location seen wins.
type Registry struct {
	locations []Location
	byName    map[string]int
}

// NewRegistry creates a registry from the given locations.
// Names are matched case-insensitively and must be unique.
func NewRegistry(locations []Location) (*Registry, error) {
	r := &Registry{
		locations: make([]Location, 0, len(locations)),
		byName:    make(map[string]int, len(locations)),
	}

	for _, loc := range locations {
		if err := ValidateCoordinates(loc.Lat, loc.Lon); err != nil {
			return nil, fmt.Errorf("location %q: %w", loc.Name, err)
		}
		key := normalizeName(loc.Name)
		if _, ok := r.byName[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLocation, loc.Name)
		}
		r.byName[key] = len(r.locations)
		r.locations = append(r.locations, loc)
	}

	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on error.
func MustNewRegistry(locations []Location) *Registry {
	r, err := NewRegistry(locations)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the Tamil Nadu city registry.
func DefaultRegistry() *Registry {
	return MustNewRegistry([]Location{
		{Name: "Chennai", Lat: 13.0827, Lon: 80.2707},
		{Name: "Coimbatore", Lat: 11.0168, Lon: 76.9558},
		{Name: "Madurai", Lat: 9.9252, Lon: 78.1198},
		{Name: "Salem", Lat: 11.6643, Lon: 78.1460},
		{Name: "Trichy", Lat: 10.7905, Lon: 78.7047},
		{Name: "Thanjavur", Lat: 10.7867, Lon: 79.1378},
		{Name: "Tirunelveli", Lat: 8.7139, Lon: 77.7567},
		{Name: "Vellore", Lat: 12.9165, Lon: 79.1325},
		{Name: "Thoothukudi", Lat: 8.7642, Lon: 78.1348},
		{Name: "Erode", Lat: 11.3410, Lon: 77.7172},
		{Name: "Karur", Lat: 10.9601, Lon: 78.0766},
		{Name: "Dindigul", Lat: 10.3624, Lon: 77.9695},
		{Name: "Kanchipuram", Lat: 12.8342, Lon: 79.7036},
		{Name: "Nagercoil", Lat: 8.1833, Lon: 77.4119},
		{Name: "Ooty", Lat: 11.4102, Lon: 76.6950},
	})
}

// Get returns the location with the given name.
func (r *Registry) Get(name string) (Location, error) {
	idx, ok := r.byName[normalizeName(name)]
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}
	return r.locations[idx], nil
}

// Locations returns a copy of all locations in enumeration order.
func (r *Registry) Locations() []Location {
	out := make([]Location, len(r.locations))
	copy(out, r.locations)
	return out
}

// Len returns the number of registered locations.
func (r *Registry) Len() int {
	return len(r.locations)
}

// Nearest returns the registry location closest to target, excluding target
// itself, and its distance in kilometres.
func (r *Registry) Nearest(target Location) (Location, float64, error) {
	return r.nearest(target.Lat, target.Lon, func(loc Location) bool {
		return normalizeName(loc.Name) == normalizeName(target.Name)
	})
}

// NearestTo returns the registry location closest to the given point and its
// distance in kilometres. No location is excluded.
func (r *Registry) NearestTo(lat, lon float64) (Location, float64, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return Location{}, 0, err
	}
	return r.nearest(lat, lon, func(Location) bool { return false })
}

// NearestAmong returns the candidate closest to target, excluding target.
// Candidates are scanned in the order given, so ties go to the earliest one.
func NearestAmong(target Location, candidates []Location) (Location, float64, error) {
	var (
		best     Location
		bestDist float64
		found    bool
	)

	for _, c := range candidates {
		if normalizeName(c.Name) == normalizeName(target.Name) {
			continue
		}
		d := Distance(target, c)
		if !found || d < bestDist {
			best, bestDist, found = c, d, true
		}
	}

	if !found {
		return Location{}, 0, ErrEmptyCandidateSet
	}
	return best, bestDist, nil
}

func (r *Registry) nearest(lat, lon float64, exclude func(Location) bool) (Location, float64, error) {
	var (
		best     Location
		bestDist float64
		found    bool
	)

	for _, loc := range r.locations {
		if exclude(loc) {
			continue
		}
		d := HaversineKm(lat, lon, loc.Lat, loc.Lon)
		// Strict comparison keeps the first-seen location on ties.
		if !found || d < bestDist {
			best, bestDist, found = loc, d, true
		}
	}

	if !found {
		return Location{}, 0, ErrEmptyCandidateSet
	}
	return best, bestDist, nil
}

// ValidateCoordinates checks that lat/lon are finite and within WGS84 bounds.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinates, lat, lon)
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
