package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// SRID4326 is the WGS84 spatial reference used by the cities table.
const SRID4326 = 4326

// EncodePoint converts a point to EWKB bytes with SRID 4326, suitable for
// binding to a PostGIS geometry parameter or COPYing into a geometry column.
func EncodePoint(p model.Point) ([]byte, error) {
	if !p.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "geo: invalid point %v,%v", p.Lat, p.Lon)
	}

	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(SRID4326)

	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// DecodePoint parses EWKB bytes produced by EncodePoint (or PostGIS) back
// into a point.
func DecodePoint(data []byte) (model.Point, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Point{}, eris.Wrap(err, "geo: decode point")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return model.Point{}, eris.Errorf("geo: expected point geometry, got %T", g)
	}
	return model.Point{Lat: pt.Y(), Lon: pt.X()}, nil
}
