package model

import (
	"math"
	"strings"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is finite and inside the lat/lon ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// City is a row of the city store. Coordinates and KMA code are optional in
// the store; Eligible reports whether a city can be used as a pairing candidate.
type City struct {
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Zip       string   `json:"zip,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	KMACode   string   `json:"kma_code,omitempty"`
	KMAName   string   `json:"kma_name,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (c City) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Eligible reports whether the city has coordinates and a resolved market area.
func (c City) Eligible() bool {
	return c.HasCoordinates() && c.KMACode != ""
}

// Point returns the city's coordinates. The second value is false when the
// city has no coordinates.
func (c City) Point() (Point, bool) {
	if !c.HasCoordinates() {
		return Point{}, false
	}
	return Point{Lat: *c.Latitude, Lon: *c.Longitude}, true
}

// Key returns a case-insensitive identity for the city ("name|state").
func (c City) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name)) + "|" + strings.ToUpper(strings.TrimSpace(c.State))
}

// SameCity reports whether two cities share name and state.
func (c City) SameCity(o City) bool {
	return c.Key() == o.Key()
}

// Candidate is a city annotated with its great-circle distance from a
// reference point and an advisory score.
type Candidate struct {
	City          City    `json:"city"`
	DistanceMiles float64 `json:"distance_miles"`
	Score         float64 `json:"score"`
}

// Float64 returns a pointer to v. Useful for building City literals.
func Float64(v float64) *float64 {
	return &v
}
