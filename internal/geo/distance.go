// Package geo provides great-circle distance, bounding-box and geometry
// encoding helpers for radius searches over the city store.
package geo

import (
	"math"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// EarthRadiusMiles is the mean Earth radius used by Haversine.
const EarthRadiusMiles = 3958.8

// milesPerDegreeLat is the length of one degree of latitude.
const milesPerDegreeLat = 69.0

// HaversineMiles returns the great-circle distance between two points in miles.
func HaversineMiles(a, b model.Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// BBox is a latitude/longitude bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p falls inside the box (inclusive).
func (b BBox) Contains(p model.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BoundingBox returns a box that contains every point within radiusMiles of
// center. The box over-selects (corners, high latitudes), so callers must
// still filter by HaversineMiles. Latitudes are clamped to [-90, 90]; near the
// poles the longitude span widens to the full range.
// Longitudes are clamped to [-180, 180], not wrapped, so a radius that
// crosses the antimeridian misses cities on the far side.
func BoundingBox(center model.Point, radiusMiles float64) BBox {
	latDelta := radiusMiles / milesPerDegreeLat

	cosLat := math.Cos(toRad(center.Lat))
	lonDelta := 180.0
	if cosLat > 1e-6 {
		lonDelta = math.Min(180, radiusMiles/(milesPerDegreeLat*cosLat))
	}

	return BBox{
		MinLat: math.Max(-90, center.Lat-latDelta),
		MaxLat: math.Min(90, center.Lat+latDelta),
		MinLon: math.Max(-180, center.Lon-lonDelta),
		MaxLon: math.Min(180, center.Lon+lonDelta),
	}
}

// MilesToMeters converts miles to meters.
func MilesToMeters(miles float64) float64 {
	return miles * 1609.344
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
