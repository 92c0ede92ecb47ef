// Package citystore is the read surface of the cities table: radius
// candidate queries and lane endpoint lookup, plus the migration and bulk
// import used to seed it.
package citystore

import (
	"context"
	"math"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/rapidroutes/lane-engine/internal/geo"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// DefaultPerMarket caps the rows a radius query returns for any one market
// area.
const DefaultPerMarket = 25

// Query selects cities around a center point. Implementations apply a
// bounding-box pre-filter only; callers refine by exact distance.
//
// PerMarket bounds rows per market area, never the total, so a dense
// cluster of one market cannot crowd farther markets out of the result.
type Query struct {
	Center      model.Point
	RadiusMiles float64
	ExcludeKMA  string
	PerMarket   int
}

// Store is the city store consumed by the pairing engine.
type Store interface {
	// WithinRadius returns cities with coordinates and a market area inside
	// the query's bounding box, nearest first, keeping at most PerMarket of
	// the nearest rows for each market area.
	WithinRadius(ctx context.Context, q Query) ([]model.City, error)

	// FindCity resolves a city by name and state. Returns
	// model.ErrCityNotFound when absent.
	FindCity(ctx context.Context, name, state string) (*model.City, error)
}

// Loader is implemented by stores that can be migrated and bulk loaded.
type Loader interface {
	Migrate(ctx context.Context) error
	Insert(ctx context.Context, cities []model.City) (int64, error)
}

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

func validateTable(table string) error {
	if !tableNameRE.MatchString(table) {
		return eris.Errorf("citystore: invalid table name %q", table)
	}
	return nil
}

func (q Query) validate() error {
	if !q.Center.Valid() {
		return eris.Wrapf(model.ErrInvalidInput, "citystore: invalid center %v,%v", q.Center.Lat, q.Center.Lon)
	}
	if !(q.RadiusMiles > 0) || math.IsInf(q.RadiusMiles, 0) {
		return eris.Wrapf(model.ErrInvalidInput, "citystore: radius must be > 0, got %v", q.RadiusMiles)
	}
	return nil
}

func (q Query) perMarket() int {
	if q.PerMarket <= 0 {
		return DefaultPerMarket
	}
	return q.PerMarket
}

// boxArgs returns the bounding box and the longitude scale used to order rows
// by approximate planar distance without SQL math functions.
func (q Query) boxArgs() (geo.BBox, float64) {
	box := geo.BoundingBox(q.Center, q.RadiusMiles)
	return box, math.Cos(q.Center.Lat * math.Pi / 180)
}
