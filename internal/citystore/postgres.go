package citystore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/rapidroutes/lane-engine/internal/db"
	"github.com/rapidroutes/lane-engine/internal/geo"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// PostgresStore implements Store and Loader over a pgx pool.
type PostgresStore struct {
	pool       db.Pool
	table      string
	usePostGIS bool
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTable overrides the default "public.cities" table.
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		s.table = table
	}
}

// WithPostGIS switches radius queries to ST_DWithin over the geom column and
// makes Migrate/Insert maintain that column.
func WithPostGIS() PostgresOption {
	return func(s *PostgresStore) {
		s.usePostGIS = true
	}
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, table: "public.cities"}
	for _, opt := range opts {
		opt(s)
	}
	if err := validateTable(s.table); err != nil {
		return nil, err
	}
	return s, nil
}

// WithinRadius implements Store.
func (s *PostgresStore) WithinRadius(ctx context.Context, q Query) ([]model.City, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	var (
		rows pgx.Rows
		err  error
	)
	if s.usePostGIS {
		rows, err = s.queryPostGIS(ctx, q)
	} else {
		rows, err = s.queryBBox(ctx, q)
	}
	if err != nil {
		return nil, eris.Wrap(err, "citystore: within radius")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var r cityRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "citystore: scan city row")
		}
		cities = append(cities, r.city())
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "citystore: iterate city rows")
	}
	return cities, nil
}

func (s *PostgresStore) queryBBox(ctx context.Context, q Query) (pgx.Rows, error) {
	box, lonScale := q.boxArgs()
	sql := fmt.Sprintf(`
		SELECT %[1]s
		FROM (
			SELECT %[1]s, dist,
			       row_number() OVER (PARTITION BY kma_code ORDER BY dist, name, state) AS kma_rank
			FROM (
				SELECT %[1]s,
				       (latitude - $6) * (latitude - $6)
				     + ((longitude - $7) * $8) * ((longitude - $7) * $8) AS dist
				FROM %[2]s
				WHERE latitude BETWEEN $1 AND $2
				  AND longitude BETWEEN $3 AND $4
				  AND kma_code IS NOT NULL AND kma_code <> ''
				  AND ($5 = '' OR kma_code <> $5)
			) boxed
		) ranked
		WHERE kma_rank <= $9
		ORDER BY dist, name, state`, cityColumns, s.table)

	return s.pool.Query(ctx, sql,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		q.ExcludeKMA, q.Center.Lat, q.Center.Lon, lonScale, q.perMarket(),
	)
}

func (s *PostgresStore) queryPostGIS(ctx context.Context, q Query) (pgx.Rows, error) {
	center, err := geo.EncodePoint(q.Center)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`
		SELECT %[1]s
		FROM (
			SELECT %[1]s, dist,
			       row_number() OVER (PARTITION BY kma_code ORDER BY dist, name, state) AS kma_rank
			FROM (
				SELECT %[1]s, geom <-> ST_GeomFromEWKB($1) AS dist
				FROM %[2]s
				WHERE ST_DWithin(geom::geography, ST_GeomFromEWKB($1)::geography, $2)
				  AND latitude IS NOT NULL AND longitude IS NOT NULL
				  AND kma_code IS NOT NULL AND kma_code <> ''
				  AND ($3 = '' OR kma_code <> $3)
			) boxed
		) ranked
		WHERE kma_rank <= $4
		ORDER BY dist, name, state`, cityColumns, s.table)

	return s.pool.Query(ctx, sql, center, geo.MilesToMeters(q.RadiusMiles), q.ExcludeKMA, q.perMarket())
}

// FindCity implements Store. When a name/state appears more than once the
// row with a market area and coordinates wins.
func (s *PostgresStore) FindCity(ctx context.Context, name, state string) (*model.City, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE lower(name) = lower($1) AND upper(state) = upper($2)
		ORDER BY (kma_code IS NULL OR kma_code = ''), (latitude IS NULL OR longitude IS NULL), zip NULLS LAST
		LIMIT 1`, cityColumns, s.table)

	var r cityRow
	err := s.pool.QueryRow(ctx, sql, name, state).Scan(r.dest()...)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrCityNotFound, "citystore: %s, %s", name, state)
		}
		return nil, eris.Wrap(err, "citystore: find city")
	}
	c := r.city()
	return &c, nil
}

// Migrate implements Loader.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	geomCol := ""
	if s.usePostGIS {
		geomCol = ",\n\t\t\tgeom geometry(Point, 4326)"
	}
	idx := indexPrefix(s.table)

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			zip TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			kma_code TEXT,
			kma_name TEXT%s
		)`, s.table, geomCol),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_lat_lon_idx ON %s (latitude, longitude)`, idx, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_kma_idx ON %s (kma_code)`, idx, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_state_idx ON %s (lower(name), upper(state))`, idx, s.table),
	}
	if s.usePostGIS {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_geom_idx ON %s USING GIST (geom)`, idx, s.table))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "citystore: migrate")
		}
	}
	return nil
}

// Insert implements Loader using COPY. With PostGIS enabled the geom column
// is filled from EWKB-encoded coordinates.
func (s *PostgresStore) Insert(ctx context.Context, cities []model.City) (int64, error) {
	columns := []string{"name", "state", "zip", "latitude", "longitude", "kma_code", "kma_name"}
	if s.usePostGIS {
		columns = append(columns, "geom")
	}

	rows := make([][]any, 0, len(cities))
	for _, c := range cities {
		row := []any{
			c.Name, c.State, nullable(c.Zip),
			nullableFloat(c.Latitude), nullableFloat(c.Longitude),
			nullable(c.KMACode), nullable(c.KMAName),
		}
		if s.usePostGIS {
			var g any
			if p, ok := c.Point(); ok {
				data, err := geo.EncodePoint(p)
				if err != nil {
					return 0, eris.Wrapf(err, "citystore: encode %s, %s", c.Name, c.State)
				}
				g = data
			}
			row = append(row, g)
		}
		rows = append(rows, row)
	}

	n, err := db.CopyFrom(ctx, s.pool, s.table, columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "citystore: insert")
	}
	return n, nil
}

func indexPrefix(table string) string {
	out := []byte(table)
	for i, b := range out {
		if b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
